package wasi

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
)

// Limits bounds the resources a single module execution may use.
type Limits struct {
	// MaxMemoryPages caps the linear memory of every instance, in 64KiB pages.
	// Zero keeps the wazero default.
	MaxMemoryPages uint32
	// MaxExecutionTime aborts a Run that takes longer. Zero disables it.
	MaxExecutionTime time.Duration
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLimits sets the resource limits applied to every execution.
func WithLimits(l Limits) Option {
	return func(r *Runtime) {
		r.limits = l
	}
}

func (l Limits) runtimeConfig() wazero.RuntimeConfig {
	config := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if l.MaxMemoryPages > 0 {
		config = config.WithMemoryLimitPages(l.MaxMemoryPages)
	}
	return config
}

// bound applies the execution deadline to ctx. A nested run keeps the
// earliest deadline.
func (l Limits) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.MaxExecutionTime <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.MaxExecutionTime)
}
