package permissions

import (
	"errors"
	"sync"
)

// ErrNoPrompter is returned by Host.Request when no host is connected.
var ErrNoPrompter = errors.New("permissions: no host connected to prompt")

// Prompter asks the connected host application to show its own permission
// dialog. The host answers through Gate.OnPermissionResult.
type Prompter interface {
	PromptPermission(requestCode int) error
}

// Host is an Authorizer that delegates the decision to the host application.
type Host struct {
	mu       sync.Mutex
	prompter Prompter
	status   Status
}

// NewHost returns a Host authorizer. The prompter can be attached later
// with SetPrompter, once the channel is up.
func NewHost(p Prompter) *Host {
	return &Host{prompter: p}
}

// SetPrompter replaces the prompter.
func (h *Host) SetPrompter(p Prompter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompter = p
}

// Status returns the last decision reported by the host.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Host) Request(requestCode int, respond ResultFunc) error {
	h.mu.Lock()
	p := h.prompter
	h.mu.Unlock()

	if p == nil {
		return ErrNoPrompter
	}
	return p.PromptPermission(requestCode)
}

// Record stores a decision made by the host so later Status calls see it.
func (h *Host) Record(grantResults []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(grantResults) > 0 && grantResults[0] == GrantGranted {
		h.status = PermissionAuthorized
	} else {
		h.status = PermissionDenied
	}
}
