package permissions

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type mockAuthorizer struct {
	mu       sync.Mutex
	status   Status
	requests int
	codes    []int
	respond  ResultFunc
	err      error
}

func (m *mockAuthorizer) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockAuthorizer) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *mockAuthorizer) Request(requestCode int, respond ResultFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requests++
	m.codes = append(m.codes, requestCode)
	m.respond = respond
	return nil
}

func TestHasPermissionQueriesUntilGranted(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionDenied}
	gate := NewGate(auth, zerolog.Nop())

	if gate.HasPermission() {
		t.Fatal("expected no permission while denied")
	}

	// A negative answer is not cached, so a platform change is observed.
	auth.setStatus(PermissionAuthorized)
	if !gate.HasPermission() {
		t.Fatal("expected permission after platform grant")
	}

	// A positive answer is cached for the process lifetime.
	auth.setStatus(PermissionDenied)
	if !gate.HasPermission() {
		t.Fatal("expected cached permission after platform revocation")
	}
}

func TestHasPermissionDoesNotPrompt(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionNotDetermined}
	gate := NewGate(auth, zerolog.Nop())

	gate.HasPermission()
	if auth.requests != 0 {
		t.Fatalf("HasPermission must not prompt, got %d requests", auth.requests)
	}
}

func TestRequestPermissionSkippedWhenGranted(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionAuthorized}
	gate := NewGate(auth, zerolog.Nop())

	if err := gate.RequestPermission(); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}
	if auth.requests != 0 {
		t.Fatalf("expected no prompt, got %d", auth.requests)
	}
}

func TestRequestPermissionResumesWhenAlreadyGranted(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionNotDetermined}
	gate := NewGate(auth, zerolog.Nop())

	var got []bool
	gate.Defer(func(g bool) { got = append(got, g) })

	// Access is granted between Defer and RequestPermission.
	auth.setStatus(PermissionAuthorized)
	if err := gate.RequestPermission(); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}

	if len(got) != 1 || !got[0] {
		t.Fatalf("expected the continuation to run with true, got %v", got)
	}
	if auth.requests != 0 {
		t.Fatalf("expected no prompt, got %d", auth.requests)
	}

	gate.OnPermissionResult(RecordAudioRequestCode, []int{GrantGranted})
	if len(got) != 1 {
		t.Fatalf("continuation must run only once, got %v", got)
	}
}

func TestRequestPermissionSingleOutstanding(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionNotDetermined}
	gate := NewGate(auth, zerolog.Nop())

	gate.RequestPermission()
	gate.RequestPermission()

	if auth.requests != 1 {
		t.Fatalf("expected one outstanding request, got %d", auth.requests)
	}
	if auth.codes[0] != RecordAudioRequestCode {
		t.Fatalf("expected request code %d, got %d", RecordAudioRequestCode, auth.codes[0])
	}
	if !gate.Outstanding() {
		t.Fatal("expected request to be outstanding")
	}
}

func TestRequestPermissionError(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionNotDetermined, err: errors.New("no dialog")}
	gate := NewGate(auth, zerolog.Nop())

	if err := gate.RequestPermission(); err == nil {
		t.Fatal("expected error")
	}
	if gate.Outstanding() {
		t.Fatal("failed request must not stay outstanding")
	}
}

func TestOnPermissionResultResumesContinuation(t *testing.T) {
	tests := []struct {
		name    string
		results []int
		want    bool
	}{
		{"granted", []int{GrantGranted}, true},
		{"denied", []int{GrantDenied}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuthorizer{status: PermissionNotDetermined}
			gate := NewGate(auth, zerolog.Nop())

			var calls int
			var got bool
			gate.Defer(func(granted bool) {
				calls++
				got = granted
			})
			gate.RequestPermission()

			if !auth.respond(RecordAudioRequestCode, tt.results) {
				t.Fatal("expected result to be handled")
			}
			if calls != 1 {
				t.Fatalf("expected continuation once, got %d", calls)
			}
			if got != tt.want {
				t.Fatalf("expected granted=%v, got %v", tt.want, got)
			}
			if gate.Outstanding() {
				t.Fatal("request should no longer be outstanding")
			}
		})
	}
}

func TestOnPermissionResultIgnoresOtherCodes(t *testing.T) {
	auth := &mockAuthorizer{status: PermissionNotDetermined}
	gate := NewGate(auth, zerolog.Nop())

	called := false
	gate.Defer(func(bool) { called = true })

	if gate.OnPermissionResult(42, []int{GrantGranted}) {
		t.Fatal("expected foreign request code to be ignored")
	}
	if called {
		t.Fatal("continuation must not run for foreign request code")
	}
	if gate.HasPermission() {
		t.Fatal("foreign result must not update the cache")
	}
}

func TestDeferLastWriterWins(t *testing.T) {
	gate := NewGate(&mockAuthorizer{}, zerolog.Nop())

	var first, second []bool
	gate.Defer(func(g bool) { first = append(first, g) })
	gate.Defer(func(g bool) { second = append(second, g) })

	if len(first) != 1 || first[0] {
		t.Fatalf("superseded continuation should resolve with false, got %v", first)
	}

	gate.OnPermissionResult(RecordAudioRequestCode, []int{GrantGranted})
	if len(second) != 1 || !second[0] {
		t.Fatalf("latest continuation should resolve with true, got %v", second)
	}
	if len(first) != 1 {
		t.Fatalf("superseded continuation must run only once, got %v", first)
	}
}

type mockPrompter struct {
	codes []int
}

func (m *mockPrompter) PromptPermission(requestCode int) error {
	m.codes = append(m.codes, requestCode)
	return nil
}

func TestHostAuthorizer(t *testing.T) {
	host := NewHost(nil)
	gate := NewGate(host, zerolog.Nop())

	if err := gate.RequestPermission(); !errors.Is(err, ErrNoPrompter) {
		t.Fatalf("expected ErrNoPrompter, got %v", err)
	}

	p := &mockPrompter{}
	host.SetPrompter(p)
	if err := gate.RequestPermission(); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}
	if len(p.codes) != 1 || p.codes[0] != RecordAudioRequestCode {
		t.Fatalf("expected host prompt with request code, got %v", p.codes)
	}

	host.Record([]int{GrantGranted})
	if host.Status() != PermissionAuthorized {
		t.Fatalf("expected Authorized, got %v", host.Status())
	}
}

func TestGrantedAuthorizer(t *testing.T) {
	gate := NewGate(Granted{}, zerolog.Nop())
	if !gate.HasPermission() {
		t.Fatal("Granted authorizer should always allow")
	}
}

func TestCancelResolvesPending(t *testing.T) {
	gate := NewGate(&mockAuthorizer{}, zerolog.Nop())

	var got []bool
	gate.Defer(func(g bool) { got = append(got, g) })
	gate.Cancel()
	gate.Cancel()

	if len(got) != 1 || got[0] {
		t.Fatalf("expected a single false resolution, got %v", got)
	}
}
