package session

import (
	"context"
	"sync"
)

// InitResult is the outcome of Initialize.
type InitResult struct {
	Success           bool
	IsMeteringEnabled bool
}

// Map renders the result the way hosts expect it: success always,
// isMeteringEnabled only on success.
func (r InitResult) Map() map[string]any {
	m := map[string]any{"success": r.Success}
	if r.Success {
		m["isMeteringEnabled"] = r.IsMeteringEnabled
	}
	return m
}

// Pending is the handle returned by Initialize. It resolves once, either
// immediately or when the permission decision arrives.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result InitResult
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r InitResult) {
	p.once.Do(func() {
		p.result = r
		close(p.done)
	})
}

// Done is closed when the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Resolved reports whether the result is available.
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx is done. Without a
// deadline on ctx, an unanswered permission request blocks forever.
func (p *Pending) Wait(ctx context.Context) (InitResult, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return InitResult{}, ctx.Err()
	}
}
