package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
)

// Session writes the diagnostics of one bridge instance. It implements
// bridge.CallRecorder and mounting.TransactionRecorder. Write errors are
// logged and never fail the call or transaction being recorded.
type Session struct {
	store  *Store
	id     string
	logger *slog.Logger
}

var (
	_ bridge.CallRecorder          = (*Session)(nil)
	_ mounting.TransactionRecorder = (*Session)(nil)
)

// StartSession creates a session row for a bridge instance.
func (s *Store) StartSession(ctx context.Context, c bridge.Capability, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := s.CreateSession(ctx, c, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	logger.Debug("diagnostics session started", "session", id, "runtime_version", c.RuntimeVersion)
	return &Session{store: s, id: id, logger: logger}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// RecordCall implements bridge.CallRecorder.
func (s *Session) RecordCall(rec bridge.CallRecord) {
	if err := s.store.WriteCall(context.Background(), s.id, rec); err != nil {
		s.logger.Warn("dropping call record",
			"session", s.id, "seq", rec.Seq, "method", rec.Module+"."+rec.Method, "error", err)
	}
}

// RecordTransaction implements mounting.TransactionRecorder.
func (s *Session) RecordTransaction(tx *shadow.Transaction, failure *mounting.Failure) {
	if err := s.store.WriteTransaction(context.Background(), s.id, tx, failure); err != nil {
		s.logger.Warn("dropping transaction record",
			"session", s.id, "surface", tx.SurfaceID, "seq", tx.Seq, "error", err)
	}
}
