package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/soundstream/internal/config"
	"github.com/rs/zerolog"
)

// chunkFrames is the PortAudio callback size; periods are assembled from
// several chunks in the ring.
const chunkFrames = 512

const minPeriodFrames = 256

type portAudioDevice struct {
	deviceID string
	log      zerolog.Logger
}

// New creates a new PortAudio-based capture device
func New(cfg config.AudioConfig, log zerolog.Logger) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioDevice{
		deviceID: cfg.DeviceID,
		log:      log.With().Str("component", "portaudio").Logger(),
	}, nil
}

func (p *portAudioDevice) findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDevice, deviceID)
}

// MinBufferSize derives the period from the device's high input latency,
// rounded up to a power of two.
func (p *portAudioDevice) MinBufferSize(sampleRate int) (int, error) {
	device, err := p.findDevice(p.deviceID)
	if err != nil {
		return 0, err
	}
	frames := int(device.DefaultHighInputLatency.Seconds()*float64(sampleRate) + 0.5)
	return roundUpPow2(max(frames, minPeriodFrames)), nil
}

func roundUpPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

func (p *portAudioDevice) Open(params Params) (Recorder, error) {
	deviceID := params.DeviceID
	if deviceID == "" {
		deviceID = p.deviceID
	}
	device, err := p.findDevice(deviceID)
	if err != nil {
		return nil, err
	}

	ringSamples := 2 * params.BufferBytes / BytesPerSample
	if ringSamples < 2*params.PeriodFrames {
		ringSamples = 2 * params.PeriodFrames
	}

	r := &portAudioRecorder{
		log:    p.log.With().Str("device", device.Name).Logger(),
		params: params,
		ring:   NewRingBuffer(ringSamples),
		notify: make(chan struct{}, 1),
	}

	// Open stream: mono, signed 16-bit, specified sample rate
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(params.SampleRate),
		FramesPerBuffer: chunkFrames,
	}, r.capture)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	r.stream = stream
	r.state = StateInitialized
	r.log.Debug().
		Int("sample_rate", params.SampleRate).
		Int("period_frames", params.PeriodFrames).
		Int("ring_samples", ringSamples).
		Msg("Opened capture stream")
	return r, nil
}

func (p *portAudioDevice) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioDevice) Close() error {
	return portaudio.Terminate()
}

// captureStream is the part of *portaudio.Stream a recorder drives.
type captureStream interface {
	Start() error
	Stop() error
	Close() error
}

type portAudioRecorder struct {
	log    zerolog.Logger
	params Params
	ring   *RingBuffer
	notify chan struct{}

	captured atomic.Int64 // samples written by the stream callback
	notified atomic.Int64 // samples covered by periodic notifications

	mu        sync.Mutex
	stream    captureStream
	state     State
	recording RecordingState
	listener  Listener
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// capture runs on the PortAudio callback thread and must not block.
func (r *portAudioRecorder) capture(in []int16) {
	r.ring.Write(in)
	r.captured.Add(int64(len(in)))
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// notifyLoop delivers listener callbacks off the audio thread.
func (r *portAudioRecorder) notifyLoop(stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-r.notify:
			r.dispatch()
		}
	}
}

func (r *portAudioRecorder) dispatch() {
	r.mu.Lock()
	l := r.listener
	r.mu.Unlock()
	if l == nil {
		return
	}

	period := int64(r.params.PeriodFrames)
	for r.captured.Load()-r.notified.Load() >= period {
		r.notified.Add(period)
		l.OnPeriodicNotification(r)
	}
	if r.ring.Len() >= r.ring.Cap() {
		l.OnMarkerReached(r)
	}
}

func (r *portAudioRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *portAudioRecorder) RecordingState() RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *portAudioRecorder) SetListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

func (r *portAudioRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInitialized {
		return ErrInvalidState
	}
	if r.recording == RecordRecording {
		return nil
	}

	r.ring.Clear()
	r.captured.Store(0)
	r.notified.Store(0)

	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.notifyLoop(r.stopCh)

	r.recording = RecordRecording
	r.log.Debug().Msg("Capture started")
	return nil
}

func (r *portAudioRecorder) Stop() error {
	r.mu.Lock()
	if r.state != StateInitialized {
		r.mu.Unlock()
		return ErrInvalidState
	}
	if r.recording != RecordRecording {
		r.mu.Unlock()
		return nil
	}

	if err := r.stream.Stop(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	r.haltNotifierLocked()
	r.mu.Unlock()

	// Wait for the notifier outside the lock; dispatch takes r.mu.
	r.wg.Wait()

	r.log.Debug().Int("dropped", r.ring.Dropped()).Msg("Capture stopped")
	return nil
}

func (r *portAudioRecorder) Read(dst []int16) (int, error) {
	if r.State() != StateInitialized {
		return 0, ErrReleased
	}
	return r.ring.Read(dst), nil
}

func (r *portAudioRecorder) Release() error {
	stopErr := r.Stop()
	if errors.Is(stopErr, ErrInvalidState) {
		// already released
		return nil
	}

	r.mu.Lock()
	if r.recording == RecordRecording {
		// The stream refused to stop; Close aborts it.
		r.haltNotifierLocked()
		r.mu.Unlock()
		r.wg.Wait()
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	var closeErr error
	if r.stream != nil {
		closeErr = r.stream.Close()
		r.stream = nil
	}
	r.state = StateUninitialized
	r.listener = nil
	r.ring.Clear()

	return errors.Join(stopErr, closeErr)
}

func (r *portAudioRecorder) haltNotifierLocked() {
	close(r.stopCh)
	r.recording = RecordStopped
}
