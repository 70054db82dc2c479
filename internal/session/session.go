// Package session implements the capture session: the recorder lifecycle
// (Unset, Initialized, Playing, Stopped) and the relay of captured periods
// to the host as little-endian PCM frames.
//
// Two paths touch a session. The command path (Initialize, Start, Stop,
// Close) is serialized by mu, which guards the status and the recorder
// handle. The recorder's notification goroutine only touches the frame
// buffer, guarded by frameMu. The command path never holds frameMu while
// waiting on the recorder, so Stop and Release can wait for in-flight
// callbacks without deadlocking.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/petems/soundstream/internal/audio"
	"github.com/petems/soundstream/internal/permissions"
	"github.com/rs/zerolog"
)

// Settings are fixed for the lifetime of one initialized recorder.
type Settings struct {
	SampleRate   int
	PeriodFrames int
	BufferBytes  int
}

// Options are the initializeRecorder arguments.
type Options struct {
	SampleRate int  // 0 keeps the previous rate
	ShowLogs   bool // enables debug logging for this session
}

type Config struct {
	Device       audio.Device
	Gate         *permissions.Gate
	Emitter      Emitter // Optional - events are dropped when nil
	Logger       zerolog.Logger
	DeviceID     string
	SampleRate   int // default rate, 16000 when zero
	PeriodFrames int // lower bound for the period, 8192 when zero
}

type Session struct {
	device  audio.Device
	gate    *permissions.Gate
	emitter Emitter
	baseLog zerolog.Logger

	mu           sync.Mutex
	log          zerolog.Logger
	deviceID     string
	sampleRate   int
	periodFrames int
	settings     Settings
	status       Status
	recorder     audio.Recorder
	id           string
	closed       bool

	frameMu sync.Mutex
	frame   []int16
}

func New(cfg Config) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = audio.DefaultPeriodFrames
	}
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}

	base := cfg.Logger.With().Str("component", "session").Logger()
	return &Session{
		device:       cfg.Device,
		gate:         cfg.Gate,
		emitter:      cfg.Emitter,
		baseLog:      base,
		log:          base.Level(zerolog.InfoLevel),
		deviceID:     cfg.DeviceID,
		sampleRate:   cfg.SampleRate,
		periodFrames: cfg.PeriodFrames,
		status:       StatusUnset,
	}
}

// Initialize configures a new recorder. If microphone access is not yet
// granted, permission is requested and the returned handle resolves when
// the decision arrives. Failures are reported as Success=false, never as
// errors.
func (s *Session) Initialize(opts Options) *Pending {
	p := newPending()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.resolve(InitResult{})
		return p
	}
	if opts.SampleRate > 0 {
		s.sampleRate = opts.SampleRate
	}
	if opts.ShowLogs {
		s.log = s.baseLog.Level(zerolog.DebugLevel)
	} else {
		s.log = s.baseLog.Level(zerolog.InfoLevel)
	}
	settings, err := s.deriveSettingsLocked()
	log := s.log
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to query minimum buffer size")
		p.resolve(InitResult{})
		return p
	}

	if s.gate.HasPermission() {
		log.Debug().Msg("has permission, completing")
		s.completeInitialize(p, settings, log, true)
		return p
	}

	s.gate.Defer(func(granted bool) {
		s.completeInitialize(p, settings, log, granted)
	})
	if err := s.gate.RequestPermission(); err != nil {
		log.Error().Err(err).Msg("Failed to request microphone permission")
		s.gate.Cancel()
	}
	log.Debug().Bool("resolved", p.Resolved()).Msg("leaving initialize")
	return p
}

// deriveSettingsLocked sizes the period from the device minimum. The
// period is never smaller than the device minimum or the configured
// default, and the buffer always holds one full period.
func (s *Session) deriveSettingsLocked() (Settings, error) {
	minFrames, err := s.device.MinBufferSize(s.sampleRate)
	if err != nil {
		return Settings{}, err
	}
	period := max(s.periodFrames, minFrames)
	return Settings{
		SampleRate:   s.sampleRate,
		PeriodFrames: period,
		BufferBytes:  period * audio.BytesPerSample,
	}, nil
}

func (s *Session) completeInitialize(p *Pending, settings Settings, log zerolog.Logger, granted bool) {
	if !granted {
		log.Info().Msg("Microphone permission not granted")
		p.resolve(InitResult{})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.resolve(InitResult{})
		return
	}

	s.log = log
	s.releaseLocked()
	if err := s.openLocked(settings); err != nil {
		s.status = StatusUnset
		s.mu.Unlock()
		log.Error().Err(err).Msg("Failed to open recorder")
		p.resolve(InitResult{})
		return
	}

	s.settings = settings
	s.id = uuid.NewString()
	s.setStatusLocked(StatusInitialized)
	s.log.Info().
		Str("session_id", s.id).
		Int("sample_rate", settings.SampleRate).
		Int("period_frames", settings.PeriodFrames).
		Int("buffer_bytes", settings.BufferBytes).
		Msg("Recorder initialized")
	s.mu.Unlock()

	p.resolve(InitResult{Success: true, IsMeteringEnabled: true})
}

// openLocked acquires a recorder and a fresh frame buffer. On failure no
// handle is retained.
func (s *Session) openLocked(settings Settings) error {
	rec, err := s.device.Open(audio.Params{
		DeviceID:     s.deviceID,
		SampleRate:   settings.SampleRate,
		PeriodFrames: settings.PeriodFrames,
		BufferBytes:  settings.BufferBytes,
	})
	if err != nil {
		return err
	}

	s.frameMu.Lock()
	s.frame = make([]int16, settings.PeriodFrames)
	s.frameMu.Unlock()

	rec.SetListener(&relay{s: s, log: s.log})
	s.recorder = rec
	return nil
}

func (s *Session) releaseLocked() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release recorder")
	}
	s.recorder = nil
}

// Start begins capture. It is a no-op when already capturing. Capture
// never starts while microphone access is not granted.
func (s *Session) Start() error {
	granted := s.gate.HasPermission()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return recordError("Failed to start recording", ErrClosed)
	}
	if s.recorder == nil {
		return recordError("Failed to start recording", ErrNotInitialized)
	}
	if !granted {
		return recordError("Failed to start recording", ErrNoPermission)
	}
	if s.recorder.RecordingState() == audio.RecordRecording {
		return nil
	}

	if s.recorder.State() != audio.StateInitialized {
		s.log.Debug().Msg("recorder not ready, reinitializing")
		s.releaseLocked()
		if err := s.openLocked(s.settings); err != nil {
			s.status = StatusUnset
			return recordError("Failed to start recording", err)
		}
	}

	if err := s.recorder.Start(); err != nil {
		s.log.Debug().Err(err).Msg("record() failed")
		return recordError("Failed to start recording", err)
	}

	s.setStatusLocked(StatusPlaying)
	return nil
}

// Stop halts capture. It is a no-op when not capturing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return recordError("Failed to stop recording", ErrClosed)
	}
	if s.recorder == nil {
		return recordError("Failed to stop recording", ErrNotInitialized)
	}
	if s.recorder.RecordingState() == audio.RecordStopped {
		return nil
	}

	if err := s.recorder.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("stop() failed")
		return recordError("Failed to stop recording", err)
	}

	s.setStatusLocked(StatusStopped)
	return nil
}

// Close stops capture, releases the recorder and returns the session to
// Unset. A permission decision still pending resolves with Success=false.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.recorder != nil {
		if s.recorder.RecordingState() == audio.RecordRecording {
			err = s.recorder.Stop()
		}
		s.releaseLocked()
	}
	s.status = StatusUnset

	s.frameMu.Lock()
	s.frame = nil
	s.frameMu.Unlock()
	s.mu.Unlock()

	s.gate.Cancel()
	return err
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Settings returns the configuration of the current recorder.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ID identifies the current recorder in logs; it changes on every
// successful Initialize.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) setStatusLocked(status Status) {
	s.status = status
	s.log.Debug().Str("status", status.String()).Msg("recorder status")
	s.emitter.Emit(Event{Name: EventRecorderStatus, Data: status.String()})
}

// relay receives recorder notifications on the capture goroutine.
type relay struct {
	s   *Session
	log zerolog.Logger
}

// OnPeriodicNotification reads one period into the frame buffer and emits
// a copy of it. Session status is not touched here.
func (r *relay) OnPeriodicNotification(rec audio.Recorder) {
	s := r.s

	s.frameMu.Lock()
	if s.frame == nil {
		s.frameMu.Unlock()
		return
	}
	n, err := rec.Read(s.frame)
	if err != nil || n <= 0 {
		s.frameMu.Unlock()
		if err != nil && !errors.Is(err, audio.ErrReleased) {
			r.log.Debug().Err(err).Msg("period read failed")
		}
		return
	}
	data := audio.EncodeLE(s.frame[:n])
	s.frameMu.Unlock()

	s.emitter.Emit(Event{Name: EventDataPeriod, Data: data})
}

// OnMarkerReached drains one buffer's worth of samples so the capture
// buffer does not overflow. Nothing is emitted.
func (r *relay) OnMarkerReached(rec audio.Recorder) {
	s := r.s

	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.frame == nil {
		return
	}
	n, _ := rec.Read(s.frame)
	if n > 0 {
		r.log.Debug().Int("samples", n).Msg("drained capture buffer")
	}
}
