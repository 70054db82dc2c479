package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/soundstream/internal/audio"
	"github.com/petems/soundstream/internal/channel"
	"github.com/petems/soundstream/internal/config"
	"github.com/petems/soundstream/internal/permissions"
	"github.com/petems/soundstream/internal/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server is the transport the app attaches to. *channel.Server satisfies it.
type Server interface {
	session.Emitter
	permissions.Prompter
	SetHandler(h channel.Handler)
	ListenAndServe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Config struct {
	Device audio.Device
	Server Server // Optional - built from Config.Channel when nil
	// Authorizer overrides the one chosen by Config.Permission.Mode.
	Authorizer permissions.Authorizer
	Config     *config.Config
	Logger     zerolog.Logger
}

// App owns one permission gate, one capture session and the channel they
// are exposed on.
type App struct {
	device  audio.Device
	server  Server
	gate    *permissions.Gate
	session *session.Session
	disp    *channel.Dispatcher
	cfg     *config.Config
	log     zerolog.Logger

	mu       sync.Mutex
	attached bool
	closed   bool
}

func New(cfg Config) (*App, error) {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	if cfg.Device == nil {
		return nil, errors.New("app: no audio device")
	}

	c := cfg.Config
	server := cfg.Server
	if server == nil {
		codec, err := channel.NewCodec(c.Channel.Codec)
		if err != nil {
			return nil, err
		}
		server = channel.NewServer(channel.ServerConfig{
			Addr:      c.Channel.ListenAddr,
			Path:      c.Channel.Path,
			Codec:     codec,
			SendQueue: c.Channel.SendQueue,
			Logger:    cfg.Logger,
		})
	}

	auth, host, err := authorizer(cfg.Authorizer, c.Permission.Mode, server)
	if err != nil {
		return nil, err
	}

	gate := permissions.NewGate(auth, cfg.Logger)
	sess := session.New(session.Config{
		Device:       cfg.Device,
		Gate:         gate,
		Emitter:      server,
		Logger:       cfg.Logger,
		DeviceID:     c.Audio.DeviceID,
		SampleRate:   c.Audio.SampleRate,
		PeriodFrames: c.Audio.PeriodFrames,
	})
	disp := channel.NewDispatcher(channel.DispatcherConfig{
		Gate:              gate,
		Session:           sess,
		Host:              host,
		Logger:            cfg.Logger,
		PermissionTimeout: c.Permission.Timeout,
	})

	a := &App{
		device:  cfg.Device,
		server:  server,
		gate:    gate,
		session: sess,
		disp:    disp,
		cfg:     c,
		log:     cfg.Logger,
	}
	a.attach()
	return a, nil
}

func authorizer(override permissions.Authorizer, mode string, prompter permissions.Prompter) (permissions.Authorizer, *permissions.Host, error) {
	if override != nil {
		host, _ := override.(*permissions.Host)
		return override, host, nil
	}
	switch mode {
	case "", config.PermissionSystem:
		return permissions.NewSystem(), nil, nil
	case config.PermissionHost:
		host := permissions.NewHost(prompter)
		return host, host, nil
	case config.PermissionGranted:
		return permissions.Granted{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown permission mode %q", mode)
	}
}

func (a *App) attach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server.SetHandler(a.disp)
	a.attached = true
}

// Run serves the channel until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	a.log.Info().
		Str("permission_mode", a.cfg.Permission.Mode).
		Int("sample_rate", a.cfg.Audio.SampleRate).
		Msg("soundstream running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown detaches the method handler, stops capture, releases the
// recorder and closes the channel. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.attached = false
	a.mu.Unlock()

	a.log.Info().Msg("Shutting down")
	a.server.SetHandler(nil)

	var errs []error
	if err := a.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session: %w", err))
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop channel: %w", err))
	}
	if err := a.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audio device: %w", err))
	}
	return errors.Join(errs...)
}

// Attached reports whether the method handler is installed.
func (a *App) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

// Session exposes the capture session.
func (a *App) Session() *session.Session {
	return a.session
}

// Gate exposes the permission gate.
func (a *App) Gate() *permissions.Gate {
	return a.gate
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.device.ListDevices()
}
