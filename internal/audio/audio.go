package audio

import "errors"

const (
	// BytesPerSample is the size of one signed 16-bit mono sample.
	BytesPerSample = 2

	DefaultSampleRate   = 16000
	DefaultPeriodFrames = 8192
)

var (
	ErrNoDevice     = errors.New("audio: input device not found")
	ErrReleased     = errors.New("audio: recorder released")
	ErrInvalidState = errors.New("audio: recorder not initialized")
)

// State is the readiness of a recorder handle.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
)

// RecordingState reports whether a recorder is actively capturing.
type RecordingState int

const (
	RecordStopped RecordingState = iota
	RecordRecording
)

// Params configures a recorder at open time.
type Params struct {
	DeviceID     string
	SampleRate   int
	PeriodFrames int // samples between periodic notifications
	BufferBytes  int // capacity of the capture buffer
}

// Listener receives notifications from a recorder's capture thread.
// Implementations must not call Start, Stop or Release from a callback.
type Listener interface {
	// OnPeriodicNotification fires every PeriodFrames captured samples.
	OnPeriodicNotification(r Recorder)
	// OnMarkerReached fires when the capture buffer is about to overflow.
	OnMarkerReached(r Recorder)
}

// Recorder is a single PCM-16 mono capture handle.
type Recorder interface {
	State() State
	RecordingState() RecordingState
	SetListener(l Listener)
	Start() error
	Stop() error
	// Read copies up to len(dst) captured samples into dst.
	Read(dst []int16) (int, error)
	// Release frees the underlying device handle. Release waits for any
	// in-flight listener callback to return.
	Release() error
}

// Device opens recorders on an input device.
type Device interface {
	// MinBufferSize returns the smallest period, in frames, the device
	// supports at the given sample rate.
	MinBufferSize(sampleRate int) (int, error)
	Open(p Params) (Recorder, error)
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}
