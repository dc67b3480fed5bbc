package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/socialchat/internal/metrics"
)

type settings struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures the hub, the dispatcher and the WebSocket handler.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records connection and frame counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}
