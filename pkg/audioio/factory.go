package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource opens a capture source for the configured backend. BackendAuto
// resolves to malgo.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	backend, logger, err := resolve(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening audio source", "backend", backend,
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendMalgo:
		return newMalgoSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink opens a playback sink for the configured backend. BackendAuto
// resolves to malgo.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	backend, logger, err := resolve(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening audio sink", "backend", backend,
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendMalgo:
		return newMalgoSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolve(cfg Config, logger *slog.Logger) (Backend, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = BackendMalgo
	}
	return backend, logger, nil
}

// AvailableBackends returns the list of usable backends.
func AvailableBackends() []Backend {
	return []Backend{BackendMock, BackendMalgo}
}
