package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/soundstream/internal/audio/audiotest"
	"github.com/petems/soundstream/internal/permissions"
	"github.com/petems/soundstream/internal/session"
	"github.com/rs/zerolog"
)

type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) Emit(ev session.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

type stubAuthorizer struct {
	mu     sync.Mutex
	status permissions.Status
}

func (a *stubAuthorizer) Status() permissions.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *stubAuthorizer) Request(int, permissions.ResultFunc) error { return nil }

type panicAuthorizer struct{}

func (panicAuthorizer) Status() permissions.Status { panic("platform exploded") }

func (panicAuthorizer) Request(int, permissions.ResultFunc) error { return nil }

type harness struct {
	dev    *audiotest.Device
	gate   *permissions.Gate
	events *eventLog
	sess   *session.Session
	disp   *Dispatcher
}

func newHarness(auth permissions.Authorizer, host *permissions.Host, timeout time.Duration) *harness {
	h := &harness{
		dev:    audiotest.NewDevice(1024),
		events: &eventLog{},
	}
	h.gate = permissions.NewGate(auth, zerolog.Nop())
	h.sess = session.New(session.Config{
		Device:  h.dev,
		Gate:    h.gate,
		Emitter: h.events,
		Logger:  zerolog.Nop(),
	})
	h.disp = NewDispatcher(DispatcherConfig{
		Gate:              h.gate,
		Session:           h.sess,
		Host:              host,
		Logger:            zerolog.Nop(),
		PermissionTimeout: timeout,
		Version:           func() (string, error) { return "testos 1.0 (amd64)", nil },
	})
	return h
}

func (h *harness) call(method string, args map[string]any) Reply {
	return h.disp.Handle(context.Background(), Call{ID: "1", Method: method, Args: args})
}

func TestDispatcherHappyPath(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)

	if r := h.call(MethodHasPermission, nil); r.Result != true || r.Error != nil {
		t.Fatalf("hasPermission: %+v", r)
	}

	r := h.call(MethodInitializeRecorder, map[string]any{"sampleRate": float64(16000), "showLogs": true})
	if r.Error != nil {
		t.Fatalf("initializeRecorder error: %+v", r.Error)
	}
	m, ok := r.Result.(map[string]any)
	if !ok || m["success"] != true || m["isMeteringEnabled"] != true {
		t.Fatalf("unexpected initialize result %#v", r.Result)
	}

	if r := h.call(MethodStartRecording, nil); r.Result != true {
		t.Fatalf("startRecording: %+v", r)
	}
	if r := h.call(MethodStartRecording, nil); r.Result != true {
		t.Fatalf("second startRecording: %+v", r)
	}
	if r := h.call(MethodStopRecording, nil); r.Result != true {
		t.Fatalf("stopRecording: %+v", r)
	}

	if got := h.events.count(session.EventRecorderStatus); got != 3 {
		t.Fatalf("expected 3 status events, got %d", got)
	}
}

func TestDispatcherReplyCarriesID(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)
	r := h.disp.Handle(context.Background(), Call{ID: "abc-123", Method: MethodHasPermission})
	if r.ID != "abc-123" {
		t.Fatalf("expected reply id abc-123, got %q", r.ID)
	}
}

func TestDispatcherStartBeforeInitialize(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)

	r := h.call(MethodStartRecording, nil)
	if r.Error == nil {
		t.Fatal("expected error")
	}
	if r.Error.Code != "FailedToRecord" {
		t.Fatalf("expected FailedToRecord, got %q", r.Error.Code)
	}
	if r.Error.Message != "Failed to start recording" || r.Error.Details == "" {
		t.Fatalf("unexpected error %+v", r.Error)
	}
}

func TestDispatcherStartRefused(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)
	h.call(MethodInitializeRecorder, nil)
	h.dev.FailStart(true)

	r := h.call(MethodStartRecording, nil)
	if r.Error == nil || r.Error.Code != "FailedToRecord" {
		t.Fatalf("expected FailedToRecord, got %+v", r)
	}
	if r.Error.Details != audiotest.ErrRefused.Error() {
		t.Fatalf("expected refusal details, got %q", r.Error.Details)
	}
}

func TestDispatcherNotImplemented(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)
	r := h.call("startPlayback", nil)
	if r.Error == nil || r.Error.Code != CodeNotImplemented {
		t.Fatalf("expected notImplemented, got %+v", r)
	}
}

func TestDispatcherPlatformVersion(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)
	r := h.call(MethodPlatformVersion, nil)
	if r.Result != "testos 1.0 (amd64)" {
		t.Fatalf("unexpected version %#v", r.Result)
	}
}

func TestDispatcherBadArguments(t *testing.T) {
	tests := []struct {
		name   string
		method string
		args   map[string]any
	}{
		{"string sample rate", MethodInitializeRecorder, map[string]any{"sampleRate": "16k"}},
		{"fractional sample rate", MethodInitializeRecorder, map[string]any{"sampleRate": 16000.5}},
		{"negative sample rate", MethodInitializeRecorder, map[string]any{"sampleRate": -1}},
		{"string showLogs", MethodInitializeRecorder, map[string]any{"showLogs": "yes"}},
		{"missing request code", MethodPermissionResult, map[string]any{"grantResults": []any{0}}},
		{"bad grant results", MethodPermissionResult, map[string]any{"requestCode": 14887, "grantResults": "granted"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(permissions.Granted{}, nil, 0)
			r := h.call(tt.method, tt.args)
			if r.Error == nil || r.Error.Code != CodeBadRequest {
				t.Fatalf("expected badRequest, got %+v", r)
			}
			if h.dev.Opened() != 0 {
				t.Fatal("no recorder may be opened for a rejected call")
			}
		})
	}
}

func TestDispatcherRecoversPanic(t *testing.T) {
	h := newHarness(panicAuthorizer{}, nil, 0)

	r := h.call(MethodHasPermission, nil)
	if r.Error == nil || r.Error.Code != "Unknown" {
		t.Fatalf("expected Unknown error, got %+v", r)
	}
	if r.Error.Details != "platform exploded" {
		t.Fatalf("expected panic value in details, got %q", r.Error.Details)
	}
	if r.Result != nil {
		t.Fatalf("expected no result alongside an error, got %#v", r.Result)
	}
}

func TestDispatcherUnexpectedError(t *testing.T) {
	h := newHarness(permissions.Granted{}, nil, 0)
	h.disp.version = func() (string, error) { return "", errors.New("uname failed") }

	r := h.call(MethodPlatformVersion, nil)
	if r.Error == nil || r.Error.Code != "Unknown" || r.Error.Details != "uname failed" {
		t.Fatalf("expected Unknown with details, got %+v", r)
	}
}

func TestDispatcherPermissionTimeout(t *testing.T) {
	h := newHarness(&stubAuthorizer{status: permissions.PermissionNotDetermined}, nil, 20*time.Millisecond)

	r := h.call(MethodInitializeRecorder, nil)
	if r.Error != nil {
		t.Fatalf("expected a result, got error %+v", r.Error)
	}
	if m := r.Result.(map[string]any); m["success"] != false {
		t.Fatalf("expected success=false on timeout, got %v", m)
	}

	// A late grant still finishes initialization.
	h.gate.OnPermissionResult(permissions.RecordAudioRequestCode, []int{permissions.GrantGranted})
	if h.sess.Status() != session.StatusInitialized {
		t.Fatalf("expected Initialized after late grant, got %v", h.sess.Status())
	}
}

func TestDispatcherCallerGone(t *testing.T) {
	h := newHarness(&stubAuthorizer{status: permissions.PermissionNotDetermined}, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := h.disp.Handle(ctx, Call{ID: "1", Method: MethodInitializeRecorder})
	if r.Error == nil || r.Error.Code != "Unknown" {
		t.Fatalf("expected Unknown when the caller goes away, got %+v", r)
	}
}

func TestDispatcherHostPermissionResult(t *testing.T) {
	host := permissions.NewHost(nil)
	prompts := make(chan int, 1)
	host.SetPrompter(prompterFunc(func(code int) error {
		prompts <- code
		return nil
	}))
	h := newHarness(host, host, 0)

	done := make(chan Reply, 1)
	go func() { done <- h.call(MethodInitializeRecorder, map[string]any{"sampleRate": int64(16000)}) }()

	select {
	case code := <-prompts:
		if code != permissions.RecordAudioRequestCode {
			t.Fatalf("unexpected request code %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("host was never prompted")
	}

	foreign := h.call(MethodPermissionResult, map[string]any{"requestCode": 1, "grantResults": []any{0}})
	if foreign.Result != false {
		t.Fatalf("foreign request code must not be handled, got %+v", foreign)
	}

	handled := h.call(MethodPermissionResult, map[string]any{"requestCode": uint16(14887), "grantResults": []any{int8(0)}})
	if handled.Result != true {
		t.Fatalf("expected handled=true, got %+v", handled)
	}

	select {
	case r := <-done:
		if m := r.Result.(map[string]any); m["success"] != true {
			t.Fatalf("expected success, got %v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("initializeRecorder never completed")
	}

	if host.Status() != permissions.PermissionAuthorized {
		t.Fatalf("host should remember the grant, got %v", host.Status())
	}
	if r := h.call(MethodHasPermission, nil); r.Result != true {
		t.Fatalf("hasPermission after grant: %+v", r)
	}
}

func TestDispatcherHostPermissionDenied(t *testing.T) {
	host := permissions.NewHost(prompterFunc(func(int) error { return nil }))
	h := newHarness(host, host, 0)

	done := make(chan Reply, 1)
	go func() { done <- h.call(MethodInitializeRecorder, nil) }()

	deadline := time.Now().Add(time.Second)
	for !h.gate.Outstanding() {
		if time.Now().After(deadline) {
			t.Fatal("permission request never issued")
		}
		time.Sleep(time.Millisecond)
	}
	h.call(MethodPermissionResult, map[string]any{"requestCode": 14887, "grantResults": []any{float64(-1)}})

	r := <-done
	if m := r.Result.(map[string]any); m["success"] != false {
		t.Fatalf("expected success=false on denial, got %v", m)
	}
	if _, ok := r.Result.(map[string]any)["isMeteringEnabled"]; ok {
		t.Fatal("isMeteringEnabled must be absent on failure")
	}
	if host.Status() != permissions.PermissionDenied {
		t.Fatalf("expected Denied, got %v", host.Status())
	}
}

type prompterFunc func(code int) error

func (f prompterFunc) PromptPermission(code int) error { return f(code) }
