// Package audiotest provides an in-memory audio.Device for tests.
package audiotest

import (
	"errors"
	"sync"

	"github.com/petems/soundstream/internal/audio"
)

// ErrRefused is returned by a Recorder told to fail Start or Stop.
var ErrRefused = errors.New("audiotest: recorder refused")

// Device is a fake audio.Device that counts acquisitions and releases.
type Device struct {
	MinFrames int // reported by MinBufferSize

	mu        sync.Mutex
	opened    int
	released  int
	recorders []*Recorder
	failStart bool
	failStop  bool
}

// NewDevice returns a Device reporting minFrames as its minimum buffer size.
func NewDevice(minFrames int) *Device {
	return &Device{MinFrames: minFrames}
}

func (d *Device) MinBufferSize(sampleRate int) (int, error) {
	return d.MinFrames, nil
}

func (d *Device) Open(p audio.Params) (audio.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := &Recorder{
		dev:       d,
		Params:    p,
		state:     audio.StateInitialized,
		failStart: d.failStart,
		failStop:  d.failStop,
	}
	d.opened++
	d.recorders = append(d.recorders, r)
	return r, nil
}

func (d *Device) ListDevices() ([]audio.AudioDevice, error) {
	return []audio.AudioDevice{{ID: "fake", Name: "Fake Microphone", Default: true}}, nil
}

func (d *Device) Close() error {
	return nil
}

// FailStart makes all recorders refuse Start.
func (d *Device) FailStart(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failStart = fail
	for _, r := range d.recorders {
		r.mu.Lock()
		r.failStart = fail
		r.mu.Unlock()
	}
}

// FailStop makes all recorders refuse Stop.
func (d *Device) FailStop(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failStop = fail
	for _, r := range d.recorders {
		r.mu.Lock()
		r.failStop = fail
		r.mu.Unlock()
	}
}

// Opened returns how many recorders were acquired.
func (d *Device) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Released returns how many recorders were released.
func (d *Device) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Live returns acquired minus released recorders.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened - d.released
}

// Last returns the most recently opened recorder, or nil.
func (d *Device) Last() *Recorder {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recorders) == 0 {
		return nil
	}
	return d.recorders[len(d.recorders)-1]
}

// Recorder is a fake audio.Recorder fed by the test through Feed.
type Recorder struct {
	Params audio.Params

	dev       *Device
	mu        sync.Mutex
	state     audio.State
	recording audio.RecordingState
	listener  audio.Listener
	pending   []int16
	failStart bool
	failStop  bool
	released  bool
}

func (r *Recorder) State() audio.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Released reports whether Release was called on this recorder.
func (r *Recorder) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *Recorder) RecordingState() audio.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) SetListener(l audio.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != audio.StateInitialized || r.failStart {
		return ErrRefused
	}
	r.recording = audio.RecordRecording
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != audio.StateInitialized || r.failStop {
		return ErrRefused
	}
	r.recording = audio.RecordStopped
	return nil
}

func (r *Recorder) Read(dst []int16) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != audio.StateInitialized {
		return 0, audio.ErrReleased
	}
	n := copy(dst, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Recorder) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.state = audio.StateUninitialized
	r.recording = audio.RecordStopped
	r.listener = nil
	r.mu.Unlock()

	r.dev.mu.Lock()
	r.dev.released++
	r.dev.mu.Unlock()
	return nil
}

// Invalidate puts the recorder into the uninitialized state without
// releasing it, as a platform would after losing the device.
func (r *Recorder) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = audio.StateUninitialized
}

// Feed queues samples and fires one periodic notification, as the capture
// thread would once a period has accumulated.
func (r *Recorder) Feed(samples []int16) {
	r.mu.Lock()
	r.pending = append(r.pending, samples...)
	l := r.listener
	r.mu.Unlock()

	if l != nil {
		l.OnPeriodicNotification(r)
	}
}

// Overflow queues samples and fires a marker notification.
func (r *Recorder) Overflow(samples []int16) {
	r.mu.Lock()
	r.pending = append(r.pending, samples...)
	l := r.listener
	r.mu.Unlock()

	if l != nil {
		l.OnMarkerReached(r)
	}
}

// Pending returns the number of queued, unread samples.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
