package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/module"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSession(t *testing.T, s *Store) *Session {
	t.Helper()
	sess, err := s.StartSession(context.Background(), bridge.Capability{
		RuntimeVersion: "0.3.0",
		ABI:            "v1",
		Features:       []string{"promises"},
	}, nil)
	require.NoError(t, err)
	return sess
}

func callRecord(seq int64, method string, state bridge.State, d time.Duration) bridge.CallRecord {
	return bridge.CallRecord{
		Seq:        seq,
		CallID:     seq * 10,
		Module:     "Counter",
		Method:     method,
		Convention: module.ConventionPromise,
		State:      state,
		Started:    time.Unix(1700000000, 0).UTC(),
		Duration:   d,
	}
}

// pragma reads a pragma as text.
func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	require.NoError(t, db.QueryRow("PRAGMA "+name).Scan(&v))
	return v
}

func queryStrings(t *testing.T, db *sql.DB, query string) []string {
	t.Helper()
	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}
