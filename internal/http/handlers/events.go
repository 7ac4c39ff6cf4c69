package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skyforge/internal/domain"
)

const keepAliveInterval = 15 * time.Second

// StreamEvents serves a job's progress as server-sent events until the run
// reaches a terminal stage or the client disconnects.
func (a *App) StreamEvents(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	current, err := a.Generations.Progress(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")

	if current.Stage.IsTerminal() {
		a.writeEvent(w, current)
		flusher.Flush()
		return
	}

	// Subscribe primes the channel when this instance tracks the job; fall
	// back to the stored view otherwise.
	updates, unsubscribe := a.Progress.Subscribe(job.ID)
	defer unsubscribe()
	select {
	case p, ok := <-updates:
		if !ok || !a.writeEvent(w, p) || p.Stage.IsTerminal() {
			flusher.Flush()
			return
		}
	default:
		if !a.writeEvent(w, current) {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case p, ok := <-updates:
			if !ok {
				return
			}
			if !a.writeEvent(w, p) {
				return
			}
			flusher.Flush()
			if p.Stage.IsTerminal() {
				return
			}
		}
	}
}

func (a *App) writeEvent(w http.ResponseWriter, p domain.GenerationProgress) bool {
	payload, err := json.Marshal(p)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", p.JobID).Msg("events: encode progress")
		return false
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload); err != nil {
		return false
	}
	return true
}
