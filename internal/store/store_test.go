package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	require.FileExists(t, filepath.Join(dir, MarkerDir, DBFileName))

	var version string
	err = s.DB().QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, "2", version)

	var cliExists bool
	err = s.DB().QueryRow(`SELECT COUNT(*) > 0 FROM sessions WHERE session_id = 'cli'`).Scan(&cliExists)
	require.NoError(t, err)
	require.True(t, cliExists)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	err = s2.DB().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := sql.ErrConnDone
	err := s.WithTx(ctx, func(conn *sql.Conn) error {
		_, execErr := conn.ExecContext(ctx, `
			INSERT INTO tasks (name, status, owner, created_at, updated_at)
			VALUES ('rolled-back', 'todo', 'ai', datetime('now'), datetime('now'))
		`)
		require.NoError(t, execErr)
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(conn *sql.Conn) error {
		_, execErr := conn.ExecContext(ctx, `
			INSERT INTO tasks (name, status, owner, created_at, updated_at)
			VALUES ('committed', 'todo', 'ai', datetime('now'), datetime('now'))
		`)
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count))
	require.Equal(t, 1, count)
}
