package service

import (
	"log/slog"
	"time"

	"github.com/starford/duetology/internal/metrics"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithGuardTimeout bounds each store round trip of a vote.
func WithGuardTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.guardTimeout = d
		}
	}
}

// WithKeepAlive sets the idle interval between SSE keep-alive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithEventBuffer sets the per-client SSE buffer size.
func WithEventBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}
