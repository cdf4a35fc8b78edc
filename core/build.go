package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/soundwave-go/audio"
	"github.com/lisuiheng/soundwave-go/metrics"
	"github.com/lisuiheng/soundwave-go/modem"
	"github.com/lisuiheng/soundwave-go/protocols/websocket"
)

// Open builds a session from configuration: the device backend, the
// websocket transport and the remote modem bridge. The bridge is connected
// before Open returns. Closing the session also closes the backend.
func Open(ctx context.Context, cfg Config, m *metrics.Metrics, log *slog.Logger) (*Session, error) {
	audioCfg, err := cfg.AudioConfig()
	if err != nil {
		return nil, err
	}
	remoteCfg, err := cfg.RemoteConfig()
	if err != nil {
		return nil, err
	}

	backend, err := audio.NewBackend(cfg.Audio.Backend, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio backend: %w", err)
	}

	transport, err := websocket.NewWebSocketProtocol(websocket.Config{
		URL:         cfg.Modem.URL,
		AccessToken: cfg.Modem.AccessToken,
		DeviceID:    cfg.Modem.DeviceID,
		ClientID:    cfg.Modem.ClientID,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	bridge, err := modem.NewRemoteBridge(transport, remoteCfg, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := bridge.Connect(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	s, err := NewSession(Options{
		Backend:    backend,
		Bridge:     bridge,
		Audio:      audioCfg,
		HalfDuplex: cfg.Audio.HalfDuplex,
		RecordPath: cfg.Audio.RecordPath,
		Metrics:    m,
	}, log)
	if err != nil {
		bridge.Close()
		backend.Close()
		return nil, err
	}
	s.ownsBackend = true
	return s, nil
}
