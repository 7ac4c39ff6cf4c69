package generation

import (
	"context"
	"sync"
)

// Controller owns the cancellation token of every in-flight run.
type Controller struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController() *Controller {
	return &Controller{runs: make(map[string]*activeRun)}
}

// Begin registers a run and derives its context from parent. The returned
// finish func must be called once the run settles; it cancels the context,
// which releases any pending wait timer.
func (c *Controller) Begin(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.runs[jobID] = run
	c.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			c.mu.Lock()
			if c.runs[jobID] == run {
				delete(c.runs, jobID)
			}
			c.mu.Unlock()
			cancel()
			close(run.done)
		})
	}
}

// Cancel fires the run's token. It reports false when no run is active.
func (c *Controller) Cancel(jobID string) bool {
	c.mu.Lock()
	run, ok := c.runs[jobID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}

// Active reports whether a run for jobID is still in flight.
func (c *Controller) Active(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runs[jobID]
	return ok
}

// Done returns a channel closed when the run settles, or nil if none is active.
func (c *Controller) Done(jobID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run, ok := c.runs[jobID]; ok {
		return run.done
	}
	return nil
}
