// Package audit carries security events raised by the session manager to
// log and message sinks.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	EventReuseDetected = "refresh_reuse_detected"
	EventCascadeFailed = "refresh_cascade_failed"
	EventLogoutAll     = "logout_all"
)

// Event is one security-relevant occurrence.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"event_type"`
	UserID    uint      `json:"user_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	Revoked   int64     `json:"revoked"`
	Error     string    `json:"error,omitempty"`
}

// Sink receives emitted audit events. Emit must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel. Events are dropped
// while the buffer is full.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(_ context.Context, event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// ZapSink logs every event at warn level.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("event_type", event.Type),
		zap.Time("timestamp", event.Timestamp),
		zap.Uint("user_id", event.UserID),
		zap.Int64("revoked", event.Revoked),
	}
	if event.TokenID != "" {
		fields = append(fields, zap.String("token_id", event.TokenID))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	s.Logger.Warn("security event", fields...)
}

// Publisher is the part of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes events as JSON on a subject.
type NATSSink struct {
	Conn    Publisher
	Subject string
	Logger  *zap.Logger
}

func (s NATSSink) Emit(_ context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.Logger.Error("marshal audit event", zap.Error(err))
		return
	}
	if err := s.Conn.Publish(s.Subject, data); err != nil {
		s.Logger.Error("publish audit event",
			zap.String("subject", s.Subject),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}
