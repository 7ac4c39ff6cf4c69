package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"skyforge/internal/infra"
	"skyforge/internal/sqlinline"
)

const (
	ProviderSkybox = "skybox"
	ProviderMeshy  = "meshy"
)

// Store reads and writes provider API keys kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Supported reports whether provider names a known generation provider.
func Supported(provider string) bool {
	switch provider {
	case ProviderSkybox, ProviderMeshy:
		return true
	default:
		return false
	}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the explicit key and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	return s.Token(ctx, provider)
}

// SetToken upserts the key for provider.
func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	if !Supported(provider) {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New(provider + " api key is required")
	}
	raw, err := json.Marshal(map[string]any{"provider": provider})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, key, raw)
	return err
}

// DeleteToken removes the stored key for provider and reports whether one existed.
func (s *Store) DeleteToken(ctx context.Context, provider string) (bool, error) {
	if !Supported(provider) {
		return false, fmt.Errorf("unsupported provider %q", provider)
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, provider)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
