package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyforge/internal/domain"
)

type recordingSink struct {
	mu        sync.Mutex
	published []domain.GenerationProgress
	cleared   []string
	err       error
}

func (s *recordingSink) Publish(_ context.Context, p domain.GenerationProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, p)
	return s.err
}

func (s *recordingSink) Clear(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, jobID)
	return s.err
}

func TestHubStartsAtInitializing(t *testing.T) {
	hub := NewHub(nil)
	hub.Start("job-1", []domain.Family{domain.FamilyImage, domain.FamilyMesh})

	snap, ok := hub.Snapshot("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.StageInitializing, snap.Stage)
	assert.Equal(t, 0, snap.OverallProgress)
	assert.Empty(t, snap.Errors)
}

func TestHubFamilyProgressIsMonotonic(t *testing.T) {
	hub := NewHub(nil)
	hub.Start("job-1", []domain.Family{domain.FamilyImage, domain.FamilyMesh})

	hub.SetFamilyProgress("job-1", domain.FamilyImage, 40)
	hub.SetFamilyProgress("job-1", domain.FamilyImage, 20)
	hub.SetFamilyProgress("job-1", domain.FamilyMesh, 60)

	snap, _ := hub.Snapshot("job-1")
	assert.Equal(t, 40, snap.ImageProgress)
	assert.Equal(t, 60, snap.MeshProgress)
	assert.Equal(t, 50, snap.OverallProgress)
	assert.Equal(t, domain.StageMeshGenerating, snap.Stage)
}

func TestHubStageNeverRegresses(t *testing.T) {
	hub := NewHub(nil)
	hub.Start("job-1", []domain.Family{domain.FamilyImage})

	hub.SetStage("job-1", domain.StageStoring, "Storing assets")
	hub.SetStage("job-1", domain.StageImageGenerating, "late poll")
	snap, _ := hub.Snapshot("job-1")
	assert.Equal(t, domain.StageStoring, snap.Stage)
	assert.Equal(t, "Storing assets", snap.Message)

	hub.Finish("job-1", domain.StageCompleted, "done")
	hub.Finish("job-1", domain.StageFailed, "ignored")
	hub.SetFamilyProgress("job-1", domain.FamilyImage, 99)
	snap, _ = hub.Snapshot("job-1")
	assert.Equal(t, domain.StageCompleted, snap.Stage)
	assert.Equal(t, 100, snap.OverallProgress)
	assert.Equal(t, 0, snap.ImageProgress)
}

func TestHubSubscribeReceivesSnapshotAndUpdates(t *testing.T) {
	hub := NewHub(nil)
	hub.Start("job-1", []domain.Family{domain.FamilyMesh})

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	first := <-ch
	assert.Equal(t, domain.StageInitializing, first.Stage)

	hub.SetFamilyProgress("job-1", domain.FamilyMesh, 30)
	next := <-ch
	assert.Equal(t, 30, next.MeshProgress)
}

func TestHubDiscardClosesSubscribersAndClearsSinks(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(nil, WithSink(sink))
	hub.Start("job-1", []domain.Family{domain.FamilyImage})
	ch, cancel := hub.Subscribe("job-1")
	<-ch

	hub.Discard("job-1")
	_, open := <-ch
	assert.False(t, open)
	cancel()

	_, ok := hub.Snapshot("job-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"job-1"}, sink.cleared)
	assert.NotEmpty(t, sink.published)
}

func TestHubSinkErrorsDoNotBlockUpdates(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	hub := NewHub(nil, WithSink(sink))
	hub.Start("job-1", []domain.Family{domain.FamilyImage})
	hub.AddError("job-1", "Image generation failed: boom")

	snap, ok := hub.Snapshot("job-1")
	require.True(t, ok)
	assert.Equal(t, []string{"Image generation failed: boom"}, snap.Errors)
}

func TestHubEvictsFinishedJobsAfterRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hub := NewHub(nil, WithRetention(time.Minute), WithClock(func() time.Time { return now }))
	hub.Start("job-1", []domain.Family{domain.FamilyImage})
	hub.Finish("job-1", domain.StageFailed, "failed")

	_, ok := hub.Snapshot("job-1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = hub.Snapshot("job-1")
	assert.False(t, ok)
}

func TestHubIgnoresUnknownJobs(t *testing.T) {
	hub := NewHub(nil)
	hub.SetFamilyProgress("nope", domain.FamilyImage, 10)
	hub.Finish("nope", domain.StageCompleted, "done")
	_, ok := hub.Snapshot("nope")
	assert.False(t, ok)
}

// gatedSink holds the first publish after arm until release is closed.
type gatedSink struct {
	recordingSink
	armed   atomic.Bool
	held    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSink) Publish(ctx context.Context, p domain.GenerationProgress) error {
	if s.armed.Load() {
		first := false
		s.held.Do(func() { first = true })
		if first {
			close(s.entered)
			<-s.release
		}
	}
	return s.recordingSink.Publish(ctx, p)
}

func TestHubSinkNeverReceivesOlderProgressAfterNewer(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(nil, WithSink(sink))
	hub.Start("job-1", []domain.Family{domain.FamilyImage, domain.FamilyMesh})
	sink.armed.Store(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.SetFamilyProgress("job-1", domain.FamilyImage, 40)
	}()
	<-sink.entered
	go func() {
		defer wg.Done()
		hub.SetFamilyProgress("job-1", domain.FamilyMesh, 60)
	}()
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	wg.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.published)
	last := sink.published[len(sink.published)-1]
	assert.Equal(t, 40, last.ImageProgress)
	assert.Equal(t, 60, last.MeshProgress)
	assert.Equal(t, 50, last.OverallProgress)
	overalls := make([]int, 0, len(sink.published))
	for _, p := range sink.published {
		overalls = append(overalls, p.OverallProgress)
	}
	assert.IsNonDecreasing(t, overalls)
}

func TestHubDropsSinkWritesAfterDiscard(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(nil, WithSink(sink))
	hub.Start("job-1", []domain.Family{domain.FamilyImage})
	hub.Discard("job-1")
	hub.SetFamilyProgress("job-1", domain.FamilyImage, 50)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.published, 1)
	assert.Equal(t, []string{"job-1"}, sink.cleared)
}
