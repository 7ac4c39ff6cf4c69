package handlers

import (
	"errors"
	"io"
	"net/http"

	"skyforge/internal/storage"
)

var forwardedAssetHeaders = []string{"Content-Type", "Content-Length", "ETag", "Last-Modified"}

// AssetProxy streams an allow-listed provider asset back to the caller.
func (a *App) AssetProxy(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("url")
	if source == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url required")
		return
	}
	if a.Assets == nil || !a.Assets.ProxyAllowed(source) {
		a.error(w, http.StatusForbidden, "forbidden", "host not allowed")
		return
	}
	resp, err := a.Assets.Open(r.Context(), source)
	if err != nil {
		if errors.Is(err, storage.ErrAssetTooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "asset too large")
			return
		}
		a.Logger.Warn().Err(err).Str("url", source).Msg("asset proxy fetch failed")
		a.error(w, http.StatusBadGateway, "bad_gateway", "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	for _, h := range forwardedAssetHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil && r.Context().Err() == nil {
		a.Logger.Warn().Err(err).Str("url", source).Msg("asset proxy copy interrupted")
	}
}
