package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lisuiheng/soundwave-go/core"
	"github.com/lisuiheng/soundwave-go/logger"
	"github.com/lisuiheng/soundwave-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/soundwave/config.yaml)")
	send := flag.String("send", "", "Transmit this message once after startup")
	listen := flag.Bool("listen", true, "Capture and decode incoming messages")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// 加载配置
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := initLogger(cfg, *debug); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Info("Shutting down soundwave service")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer srv.Close()
	}

	session, err := core.Open(ctx, cfg, m, logger.Logger())
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("Failed to close session", "error", err)
		}
	}()

	// 启动主服务
	runErr := make(chan error, 1)
	go func() {
		logger.Info("Starting soundwave service", "backend", cfg.Audio.Backend)
		runErr <- session.Run(ctx)
	}()

	if *listen {
		if err := session.StartCapture(ctx); err != nil {
			logger.Error("Failed to start capture", "error", err)
			return
		}
	}
	if *send != "" {
		if err := session.Send(ctx, *send); err != nil {
			logger.Error("Failed to send message", "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Received signal, shutting down")
			return
		case err := <-runErr:
			if err != nil {
				logger.Error("Service runtime error", "error", err)
			}
			return
		case ev := <-session.Events():
			if done := logEvent(ev, *send != "" && !*listen); done {
				return
			}
		}
	}
}

// logEvent reports one session event and says whether a send-only run is
// finished.
func logEvent(ev core.Event, sendOnly bool) bool {
	switch ev.Type {
	case core.EventMessage:
		logger.Info("Message received", "text", string(ev.Message))
	case core.EventPlaybackProgress:
		logger.Debug("Transmission progress", "ms", ev.Progress)
	case core.EventPlaybackCompleted:
		logger.Info("Transmission completed", "ms", ev.Progress)
		return sendOnly
	case core.EventPlaybackError, core.EventCaptureError:
		logger.Error("Audio error", "event", ev.Type, "error", ev.Err)
		return sendOnly || ev.Type == core.EventCaptureError
	default:
		logger.Debug("Session event", "event", ev.Type)
	}
	return false
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config, debug bool) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	return logger.Init(logCfg)
}
