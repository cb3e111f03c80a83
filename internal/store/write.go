package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/mounting"
	"github.com/roach88/tether/internal/shadow"
)

// CreateSession inserts a session row for a bridge instance and returns
// its id. Ids are UUIDv7 so sessions list in creation order.
func (s *Store) CreateSession(ctx context.Context, c bridge.Capability, startedAt int64) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	features, err := marshalFeatures(c.Features)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, runtime_version, abi, features, wire_version, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), c.RuntimeVersion, c.ABI, features, ir.WireVersion, startedAt)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id.String(), nil
}

// WriteCall appends a finished call. Uses ON CONFLICT DO NOTHING so a
// record delivered twice for the same seq is ignored.
func (s *Store) WriteCall(ctx context.Context, sessionID string, rec bridge.CallRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls
		(session_id, seq, call_id, module, method, convention, state, code, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		sessionID,
		rec.Seq,
		rec.CallID,
		rec.Module,
		rec.Method,
		rec.Convention.String(),
		rec.State.String(),
		rec.Code,
		unixNano(rec.Started),
		rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}
	return nil
}

// WriteTransaction appends a mounted (or failed) transaction.
//
// Note: The session referenced by sessionID must exist (foreign key constraint).
func (s *Store) WriteTransaction(ctx context.Context, sessionID string, tx *shadow.Transaction, failure *mounting.Failure) error {
	kinds, err := marshalKinds(tx.Mutations)
	if err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}

	var failureText string
	if failure != nil {
		failureText = failure.Error()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(session_id, surface_id, seq, mutation_count, kinds, commit_ns, diff_ns, mount_ns, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, surface_id, seq) DO NOTHING
	`,
		sessionID,
		int64(tx.SurfaceID),
		tx.Seq,
		len(tx.Mutations),
		kinds,
		tx.Telemetry.CommitDuration().Nanoseconds(),
		tx.Telemetry.DiffDuration().Nanoseconds(),
		tx.Telemetry.MountDuration().Nanoseconds(),
		failureText,
	)
	if err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}
	return nil
}
