package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lisuiheng/soundwave-go/audio"
	"github.com/lisuiheng/soundwave-go/modem"
	"github.com/spf13/viper"
)

// Config 是服务配置结构（与 YAML 文件结构一致）
type Config struct {
	Audio struct {
		Backend      string `mapstructure:"backend"`
		HalfDuplex   bool   `mapstructure:"half_duplex"`
		RecordPath   string `mapstructure:"record_path"`
		DecodeQueue  int    `mapstructure:"decode_queue"`
		DecodePolicy string `mapstructure:"decode_policy"`
	} `mapstructure:"audio"`

	Modem struct {
		URL             string `mapstructure:"url"`
		AccessToken     string `mapstructure:"access_token"`
		DeviceID        string `mapstructure:"device_id"`
		ClientID        string `mapstructure:"client_id"`
		Format          string `mapstructure:"format"`
		ConnectAttempts int    `mapstructure:"connect_attempts"`
	} `mapstructure:"modem"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", "malgo")
	v.SetDefault("audio.half_duplex", true)
	v.SetDefault("audio.record_path", "")
	v.SetDefault("audio.decode_queue", 0)
	v.SetDefault("audio.decode_policy", string(audio.QueueBlock))

	v.SetDefault("modem.url", "ws://localhost:8765/modem")
	v.SetDefault("modem.access_token", "")
	v.SetDefault("modem.device_id", "")
	v.SetDefault("modem.client_id", "")
	v.SetDefault("modem.format", string(modem.FormatPCM))
	v.SetDefault("modem.connect_attempts", 5)

	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
}

// LoadConfig 加载配置文件。configPath 为空时按默认路径搜索，找不到文件则使用默认值。
// 环境变量 SOUNDWAVE_AUDIO_BACKEND 等覆盖文件中的值。
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("SOUNDWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/soundwave")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "malgo", "portaudio", "loopback":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Audio.Backend)
	}
	if _, err := c.AudioConfig(); err != nil {
		return err
	}
	if _, err := modem.ParseAudioFormat(c.Modem.Format); err != nil {
		return err
	}
	if c.Modem.ConnectAttempts < 0 {
		return fmt.Errorf("connect_attempts must not be negative: %d", c.Modem.ConnectAttempts)
	}
	return nil
}

// AudioConfig builds the engine parameters. Only the decode queue is
// configurable; the stream format and buffer sizes are fixed.
func (c Config) AudioConfig() (audio.Config, error) {
	cfg := audio.DefaultConfig()
	cfg.DecodeQueueDepth = c.Audio.DecodeQueue
	if c.Audio.DecodePolicy != "" {
		policy, err := audio.ParseQueuePolicy(c.Audio.DecodePolicy)
		if err != nil {
			return audio.Config{}, err
		}
		cfg.DecodePolicy = policy
	}
	if err := cfg.Validate(); err != nil {
		return audio.Config{}, err
	}
	return cfg, nil
}

// RemoteConfig builds the modem bridge settings.
func (c Config) RemoteConfig() (modem.RemoteConfig, error) {
	format, err := modem.ParseAudioFormat(c.Modem.Format)
	if err != nil {
		return modem.RemoteConfig{}, err
	}
	rc := modem.DefaultRemoteConfig()
	rc.Format = format
	if c.Modem.ConnectAttempts > 0 {
		rc.ConnectAttempts = c.Modem.ConnectAttempts
	}
	return rc, nil
}
