package scanner

import (
	"context"
	"sync"
)

// completion is a one-shot result cell. The session writes it exactly once;
// waiters read it after done is closed.
type completion struct {
	once    sync.Once
	done    chan struct{}
	results []PortResult
	err     error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// resolve stores the outcome. Only the first call has any effect.
func (c *completion) resolve(results []PortResult, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.results = results
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

func (c *completion) wait(ctx context.Context) ([]PortResult, error) {
	select {
	case <-c.done:
		return c.results, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
