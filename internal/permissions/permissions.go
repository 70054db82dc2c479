// Package permissions mediates access to the microphone.
//
// A Gate caches a positive decision for the life of the process. When the
// microphone is not yet authorized, callers register a continuation with
// Defer and trigger RequestPermission; the platform answers later through
// OnPermissionResult. There is no timeout: if the platform never answers,
// the continuation never runs.
package permissions

import (
	"sync"

	"github.com/rs/zerolog"
)

// RecordAudioRequestCode tags the one microphone request the gate issues.
// Results carrying any other code are not handled.
const RecordAudioRequestCode = 14887

// Grant results, per request entry.
const (
	GrantGranted = 0
	GrantDenied  = -1
)

// Status mirrors the platform authorization state.
type Status int

const (
	PermissionNotDetermined Status = iota
	PermissionRestricted
	PermissionDenied
	PermissionAuthorized
)

func (s Status) String() string {
	switch s {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// ResultFunc delivers an authorization decision back to the gate.
type ResultFunc func(requestCode int, grantResults []int) bool

// Authorizer is the platform side of the gate.
type Authorizer interface {
	// Status queries the current authorization without prompting.
	Status() Status
	// Request prompts for access. It must not block on the user's answer;
	// the answer is passed to respond, possibly from another goroutine.
	Request(requestCode int, respond ResultFunc) error
}

// Gate caches microphone authorization and holds the continuation waiting
// on an outstanding request.
type Gate struct {
	auth Authorizer
	log  zerolog.Logger

	mu          sync.Mutex
	granted     bool
	outstanding bool
	pending     func(granted bool)
}

// NewGate returns a gate backed by auth.
func NewGate(auth Authorizer, log zerolog.Logger) *Gate {
	return &Gate{
		auth: auth,
		log:  log.With().Str("component", "permissions").Logger(),
	}
}

// HasPermission returns the cached flag if set; otherwise it queries the
// platform without prompting and caches the answer.
func (g *Gate) HasPermission() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.granted {
		return true
	}
	g.granted = g.auth.Status() == PermissionAuthorized
	return g.granted
}

// RequestPermission prompts the platform unless access is already granted
// or a request is already outstanding. It does not wait for the decision.
// When access is already granted, a waiting continuation runs with true.
func (g *Gate) RequestPermission() error {
	if g.HasPermission() {
		g.mu.Lock()
		cont := g.pending
		g.pending = nil
		g.mu.Unlock()
		if cont != nil {
			cont(true)
		}
		return nil
	}

	g.mu.Lock()
	if g.outstanding {
		g.mu.Unlock()
		return nil
	}
	g.outstanding = true
	g.mu.Unlock()

	g.log.Debug().Int("request_code", RecordAudioRequestCode).Msg("Requesting microphone permission")
	if err := g.auth.Request(RecordAudioRequestCode, g.OnPermissionResult); err != nil {
		g.mu.Lock()
		g.outstanding = false
		g.mu.Unlock()
		return err
	}
	return nil
}

// Defer registers the continuation to run when the outstanding request is
// answered. Only one continuation is kept; a previously registered one is
// resolved immediately with false.
func (g *Gate) Defer(cont func(granted bool)) {
	g.mu.Lock()
	prev := g.pending
	g.pending = cont
	g.mu.Unlock()

	if prev != nil {
		g.log.Debug().Bool("replaced", cont != nil).Msg("Pending permission continuation dropped")
		prev(false)
	}
}

// Cancel resolves the waiting continuation, if any, with false.
func (g *Gate) Cancel() {
	g.Defer(nil)
}

// OnPermissionResult receives the platform decision. It returns false when
// requestCode is not the gate's request code.
func (g *Gate) OnPermissionResult(requestCode int, grantResults []int) bool {
	if requestCode != RecordAudioRequestCode {
		return false
	}

	granted := len(grantResults) > 0 && grantResults[0] == GrantGranted

	g.mu.Lock()
	g.granted = granted
	g.outstanding = false
	cont := g.pending
	g.pending = nil
	g.mu.Unlock()

	g.log.Info().Bool("granted", granted).Msg("Microphone permission result")
	if cont != nil {
		cont(granted)
	}
	return true
}

// Outstanding reports whether a request is waiting for an answer.
func (g *Gate) Outstanding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outstanding
}

// Granted is an Authorizer for platforms without a microphone permission.
type Granted struct{}

func (Granted) Status() Status { return PermissionAuthorized }

func (Granted) Request(requestCode int, respond ResultFunc) error {
	respond(requestCode, []int{GrantGranted})
	return nil
}
