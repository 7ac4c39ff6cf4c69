package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	token string
	err   error
	tag   pgconn.CommandTag
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderSkybox)
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
}

func TestTokenNoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderMeshy)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestResolvePrefersExplicitKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: "stored"})
	key, err := store.Resolve(context.Background(), ProviderMeshy, " env-key ")
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)

	key, err = store.Resolve(context.Background(), ProviderMeshy, "")
	require.NoError(t, err)
	assert.Equal(t, "stored", key)
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	require.NoError(t, store.SetToken(context.Background(), ProviderSkybox, "secret"))
	require.Len(t, exec.exec.args, 3)
	assert.Equal(t, ProviderSkybox, exec.exec.args[0])
	assert.Equal(t, "secret", exec.exec.args[1])
}

func TestSetTokenRejectsBadInput(t *testing.T) {
	store := NewStore(&stubExecutor{})
	assert.Error(t, store.SetToken(context.Background(), ProviderSkybox, " "))
	assert.Error(t, store.SetToken(context.Background(), "stability", "key"))
}

func TestDeleteToken(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("DELETE 1")}
	store := NewStore(exec)

	deleted, err := store.DeleteToken(context.Background(), ProviderMeshy)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []any{ProviderMeshy}, exec.exec.args)

	exec.tag = pgconn.NewCommandTag("DELETE 0")
	deleted, err = store.DeleteToken(context.Background(), ProviderMeshy)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.DeleteToken(context.Background(), "stability")
	assert.Error(t, err)
}
