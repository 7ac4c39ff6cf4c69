package infra

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/bytedance/gopkg/util/gopool"
)

// Pool runs background tasks on a shared goroutine pool and logs panics
// instead of crashing the process.
type Pool struct {
	pool gopool.Pool
}

// NewPool creates a named pool. A nil logger discards panic reports.
func NewPool(name string, logger *Logger) *Pool {
	p := gopool.NewPool(name, math.MaxInt32, gopool.NewConfig())
	l := NopLogger()
	if logger != nil {
		l = *logger
	}
	p.SetPanicHandler(func(ctx context.Context, r interface{}) {
		l.Error().
			Str("pool", name).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("pool: task panicked")
	})
	return &Pool{pool: p}
}

// Go schedules f. Panics inside f are recovered by the pool.
func (p *Pool) Go(ctx context.Context, f func()) {
	p.pool.CtxGo(ctx, f)
}
