package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/querysql"
)

// SessionInfo is a stored session header.
type SessionInfo struct {
	ID             string    `json:"id"`
	RuntimeVersion string    `json:"runtime_version"`
	ABI            string    `json:"abi"`
	Features       []string  `json:"features"`
	WireVersion    string    `json:"wire_version"`
	StartedAt      time.Time `json:"started_at"`
}

// CallRow is a stored call record.
type CallRow struct {
	Seq        int64         `json:"seq"`
	CallID     int64         `json:"call_id"`
	Module     string        `json:"module"`
	Method     string        `json:"method"`
	Convention string        `json:"convention"`
	State      string        `json:"state"`
	Code       string        `json:"code,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
}

// TransactionRow is a stored mounting transaction.
type TransactionRow struct {
	SurfaceID     int64          `json:"surface_id"`
	Seq           int64          `json:"seq"`
	MutationCount int            `json:"mutation_count"`
	Kinds         map[string]int `json:"kinds"`
	Commit        time.Duration  `json:"commit_ns"`
	Diff          time.Duration  `json:"diff_ns"`
	Mount         time.Duration  `json:"mount_ns"`
	Failure       string         `json:"failure,omitempty"`
}

// MethodSummary aggregates the calls of one method within a session.
type MethodSummary struct {
	Module   string        `json:"module"`
	Method   string        `json:"method"`
	Calls    int           `json:"calls"`
	Failures int           `json:"failures"`
	Total    time.Duration `json:"total_ns"`
}

// ListSessions returns all sessions, oldest first. UUIDv7 ids sort by
// creation time, so ordering by id is stable across reopenings.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, runtime_version, abi, features, wire_version, started_at
		FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession retrieves a single session by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, runtime_version, abi, features, wire_version, started_at
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// LatestSession returns the most recently created session.
// Returns sql.ErrNoRows if the log is empty.
func (s *Store) LatestSession(ctx context.Context) (SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, runtime_version, abi, features, wire_version, started_at
		FROM sessions
		ORDER BY id COLLATE BINARY DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// ReadCalls returns a session's calls ordered by seq.
// Returns an empty slice (not nil) if the session has no calls.
func (s *Store) ReadCalls(ctx context.Context, sessionID string) ([]CallRow, error) {
	return s.QueryCalls(ctx, sessionID, nil, 0)
}

// QueryCalls returns the calls of a session matching filter (nil = all),
// ordered by seq. limit <= 0 means no limit.
func (s *Store) QueryCalls(ctx context.Context, sessionID string, filter queryir.Predicate, limit int) ([]CallRow, error) {
	query, params, err := querysql.Compile(sessionID, queryir.Select{
		From:   queryir.TableCalls,
		Filter: filter,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []CallRow{}
	for rows.Next() {
		var c CallRow
		var started, duration int64
		if err := rows.Scan(&c.Seq, &c.CallID, &c.Module, &c.Method, &c.Convention,
			&c.State, &c.Code, &started, &duration); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.Started = fromUnixNano(started)
		c.Duration = time.Duration(duration)
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

// ReadTransactions returns a session's transactions ordered by surface
// and seq.
func (s *Store) ReadTransactions(ctx context.Context, sessionID string) ([]TransactionRow, error) {
	return s.QueryTransactions(ctx, sessionID, nil, 0)
}

// QueryTransactions returns the transactions of a session matching
// filter (nil = all), ordered by surface and seq.
func (s *Store) QueryTransactions(ctx context.Context, sessionID string, filter queryir.Predicate, limit int) ([]TransactionRow, error) {
	query, params, err := querysql.Compile(sessionID, queryir.Select{
		From:   queryir.TableTransactions,
		Filter: filter,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []TransactionRow{}
	for rows.Next() {
		var t TransactionRow
		var kinds string
		var commit, diff, mount int64
		if err := rows.Scan(&t.SurfaceID, &t.Seq, &t.MutationCount, &kinds,
			&commit, &diff, &mount, &t.Failure); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Kinds, err = unmarshalKinds(kinds); err != nil {
			return nil, err
		}
		t.Commit = time.Duration(commit)
		t.Diff = time.Duration(diff)
		t.Mount = time.Duration(mount)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// SummarizeCalls aggregates a session's calls per method, ordered by
// module then method name.
func (s *Store) SummarizeCalls(ctx context.Context, sessionID string) ([]MethodSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, method, COUNT(*),
		       SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END),
		       SUM(duration_ns)
		FROM calls
		WHERE session_id = ?
		GROUP BY module, method
		ORDER BY module COLLATE BINARY ASC, method COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("summarize calls: %w", err)
	}
	defer rows.Close()

	out := []MethodSummary{}
	for rows.Next() {
		var m MethodSummary
		var total int64
		if err := rows.Scan(&m.Module, &m.Method, &m.Calls, &m.Failures, &total); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		m.Total = time.Duration(total)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionInfo, error) {
	var info SessionInfo
	var features string
	var started int64
	if err := row.Scan(&info.ID, &info.RuntimeVersion, &info.ABI, &features,
		&info.WireVersion, &started); err != nil {
		if err == sql.ErrNoRows {
			return SessionInfo{}, err
		}
		return SessionInfo{}, fmt.Errorf("scan session: %w", err)
	}
	var err error
	if info.Features, err = unmarshalFeatures(features); err != nil {
		return SessionInfo{}, err
	}
	info.StartedAt = fromUnixNano(started)
	return info, nil
}
