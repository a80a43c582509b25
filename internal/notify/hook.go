package notify

import (
	"context"
	"log/slog"
	"sync"
)

// FatalFunc is called with the error that ended the process abnormally.
type FatalFunc func(ctx context.Context, cause error) error

// Hook runs the registered callbacks once, on the first Fire.
// It is safe for concurrent use.
type Hook struct {
	mu        sync.Mutex
	callbacks []FatalFunc
	once      sync.Once
	logger    *slog.Logger
}

// NewHook creates a Hook. A nil logger uses slog.Default().
func NewHook(logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{logger: logger}
}

// OnFatal registers fn. Callbacks run in registration order.
func (h *Hook) OnFatal(fn FatalFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

// Fire runs every callback with cause. Only the first call has an effect.
// Callback errors are logged and do not stop later callbacks.
func (h *Hook) Fire(ctx context.Context, cause error) {
	h.once.Do(func() {
		h.mu.Lock()
		callbacks := append([]FatalFunc(nil), h.callbacks...)
		h.mu.Unlock()

		for _, fn := range callbacks {
			if err := fn(ctx, cause); err != nil {
				h.logger.Error("fatal notification failed", "error", err)
			}
		}
	})
}
