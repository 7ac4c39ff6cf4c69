package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"skyforge/internal/providers/meshy"
	"skyforge/internal/providers/skybox"
)

type imageStep struct {
	gen *skybox.Generation
	err error
}

// fakeImage replays steps in order and repeats the last one.
type fakeImage struct {
	mu        sync.Mutex
	submitID  string
	submitErr error
	submitted []skybox.SubmitRequest
	steps     []imageStep
	calls     int
	onStatus  func(call int)
}

func (f *fakeImage) Submit(_ context.Context, req skybox.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.submitID == "" {
		return "gen-1", nil
	}
	return f.submitID, nil
}

func (f *fakeImage) Status(_ context.Context, id string) (*skybox.Generation, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	step := f.steps[min(call, len(f.steps))-1]
	hook := f.onStatus
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if step.err != nil {
		return nil, step.err
	}
	gen := *step.gen
	if gen.ID == "" {
		gen.ID = id
	}
	return &gen, nil
}

func (f *fakeImage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type meshStep struct {
	task *meshy.Task
	err  error
}

type fakeMesh struct {
	mu        sync.Mutex
	submitErr error
	submitted []meshy.SubmitRequest
	steps     []meshStep
	calls     int
	onStatus  func(call int)
}

func (f *fakeMesh) Submit(_ context.Context, req meshy.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "task-1", nil
}

func (f *fakeMesh) Status(_ context.Context, id string) (*meshy.Task, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	step := f.steps[min(call, len(f.steps))-1]
	hook := f.onStatus
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if step.err != nil {
		return nil, step.err
	}
	task := *step.task
	if task.ID == "" {
		task.ID = id
	}
	return &task, nil
}

func (f *fakeMesh) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// waitRecorder returns immediately and records each requested delay.
type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waitRecorder) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func noJitter(time.Duration) time.Duration { return 0 }

type fakeStore struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *fakeStore) Store(_ context.Context, sourceURL, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "https://durable.example/" + key, nil
}

var errTransport = errors.New("connection reset by peer")

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func imageStatus(status string) imageStep {
	return imageStep{gen: &skybox.Generation{Status: status}}
}

func imageComplete(url string) imageStep {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(42 * time.Second)
	return imageStep{gen: &skybox.Generation{
		Status:       "complete",
		FileURL:      strPtr(url),
		ThumbnailURL: strPtr(url + "?thumb"),
		CreatedAt:    &created,
		UpdatedAt:    &updated,
	}}
}

func meshStatus(status string, progress int) meshStep {
	return meshStep{task: &meshy.Task{Status: status, Progress: intPtr(progress), CreatedAt: 1700000000000}}
}

func meshSucceeded(url string) meshStep {
	started := int64(1700000001000)
	finished := int64(1700000061000)
	return meshStep{task: &meshy.Task{
		Status:     "SUCCEEDED",
		Progress:   intPtr(100),
		ModelURLs:  map[string]string{"glb": url},
		CreatedAt:  1700000000000,
		StartedAt:  &started,
		FinishedAt: &finished,
	}}
}
