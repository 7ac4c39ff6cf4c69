package generation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// AssetStore copies the bytes behind sourceURL into durable storage at key
// and returns the durable URL.
type AssetStore interface {
	Store(ctx context.Context, sourceURL, key string) (string, error)
}

// Persister moves ephemeral provider assets into durable storage. Failures
// are logged and fall back to the ephemeral URL.
type Persister struct {
	store   AssetStore
	timeout time.Duration
	logger  infra.Logger
}

func NewPersister(store AssetStore, timeout time.Duration, logger *infra.Logger) *Persister {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Persister{store: store, timeout: timeout, logger: l}
}

// Persist never fails: it returns either the durable URL or ephemeralURL.
func (p *Persister) Persist(ctx context.Context, ephemeralURL, jobID, requester string, ts time.Time, kind domain.Family, format string) string {
	if p == nil || p.store == nil || ephemeralURL == "" {
		return ephemeralURL
	}
	key := AssetKey(jobID, requester, ts, kind, format)
	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stored, err := p.store.Store(storeCtx, ephemeralURL, key)
	if err != nil || stored == "" {
		p.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("family", string(kind)).
			Str("key", key).
			Msg("persist: durable copy failed, keeping provider url")
		return ephemeralURL
	}
	p.logger.Info().Str("job_id", jobID).Str("family", string(kind)).Str("key", key).Msg("persist: asset stored")
	return stored
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// AssetKey derives the storage path of an asset.
func AssetKey(jobID, requester string, ts time.Time, kind domain.Family, format string) string {
	owner := unsafeKeyChars.ReplaceAllString(strings.TrimSpace(requester), "_")
	if owner == "" {
		owner = "anonymous"
	}
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		format = "bin"
	}
	return fmt.Sprintf("generations/%s/%s/%d-%s.%s", owner, jobID, ts.UTC().UnixMilli(), kind, format)
}
