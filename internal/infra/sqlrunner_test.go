package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarker(t *testing.T) {
	marker, body, err := ExtractMarker("\n--sql 0b6f1d0e-3c55-4a0f-9a57-1f0c3e9b8d21\nselect 1;\n")
	require.NoError(t, err)
	assert.Equal(t, "0b6f1d0e-3c55-4a0f-9a57-1f0c3e9b8d21", marker)
	assert.Equal(t, "select 1;", body)
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	_, _, err := ExtractMarker("select 1;")
	assert.Error(t, err)
	_, _, err = ExtractMarker("   ")
	assert.Error(t, err)
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("boom")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
