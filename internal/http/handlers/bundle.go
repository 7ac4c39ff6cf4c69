package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"skyforge/internal/domain"
	"skyforge/pkg/zip"
)

type bundleSource struct {
	name string
	url  string
}

func bundleSources(job *domain.Job) []bundleSource {
	var out []bundleSource
	imageURL := job.ImageURL
	if imageURL == "" && job.ImageResult != nil {
		imageURL = job.ImageResult.FileURL
	}
	if imageURL != "" {
		format := ""
		if job.ImageResult != nil {
			format = job.ImageResult.Format
		}
		out = append(out, bundleSource{name: "skybox." + extension(imageURL, format, "png"), url: imageURL})
	}
	meshURL := job.MeshURL
	if meshURL == "" && job.MeshResult != nil {
		meshURL = job.MeshResult.ModelURL
	}
	if meshURL != "" {
		format := ""
		if job.MeshResult != nil {
			format = job.MeshResult.Format
		}
		out = append(out, bundleSource{name: "mesh." + extension(meshURL, format, "glb"), url: meshURL})
	}
	return out
}

func extension(rawURL, format, fallback string) string {
	if format != "" {
		return format
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if ext := strings.TrimPrefix(path.Ext(rawURL), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return fallback
}

// DownloadBundle streams a finished job's assets and record as one zip.
func (a *App) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !job.Status.IsTerminal() {
		a.fail(w, r, domain.ErrJobNotFinished)
		return
	}
	sources := bundleSources(job)
	if len(sources) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "generation has no assets")
		return
	}
	if a.Assets == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "asset downloads disabled")
		return
	}

	manifest, err := json.MarshalIndent(newGenerationResponse(job), "", "  ")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assets := []zip.Asset{{Filename: "job.json", Modified: job.UpdatedAt, Body: bytes.NewReader(manifest)}}

	// Open every upstream before the status line so a dead URL is still a 502.
	for _, src := range sources {
		resp, err := a.Assets.Open(r.Context(), src.url)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Str("url", src.url).Msg("bundle asset fetch failed")
			a.error(w, http.StatusBadGateway, "bad_gateway", "asset fetch failed: "+src.name)
			return
		}
		defer resp.Body.Close()
		assets = append(assets, zip.Asset{Filename: src.name, Modified: job.UpdatedAt, Body: resp.Body})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="generation-%s.zip"`, job.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.ArchiveAssets(w, assets); err != nil && r.Context().Err() == nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("bundle stream interrupted")
	}
}
