package channel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/petems/soundstream/internal/permissions"
	"github.com/petems/soundstream/internal/session"
	"github.com/rs/zerolog"
)

// ErrNotImplemented is reported for method names the dispatcher does not know.
var ErrNotImplemented = errors.New("method not implemented")

// Handler answers method calls. Handle never panics and always returns a
// reply carrying call.ID.
type Handler interface {
	Handle(ctx context.Context, call Call) Reply
}

type DispatcherConfig struct {
	Gate    *permissions.Gate
	Session *session.Session
	Host    *permissions.Host // Optional - set in host permission mode
	Logger  zerolog.Logger
	// PermissionTimeout bounds how long initializeRecorder waits for a
	// permission decision. Zero waits for as long as the connection lives.
	PermissionTimeout time.Duration
	// Version overrides the getPlatformVersion answer; used by tests.
	Version func() (string, error)
}

// Dispatcher routes calls to the permission gate and the capture session.
type Dispatcher struct {
	gate    *permissions.Gate
	session *session.Session
	host    *permissions.Host
	log     zerolog.Logger
	timeout time.Duration
	version func() (string, error)
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Version == nil {
		cfg.Version = PlatformVersion
	}
	return &Dispatcher{
		gate:    cfg.Gate,
		session: cfg.Session,
		host:    cfg.Host,
		log:     cfg.Logger.With().Str("component", "dispatcher").Logger(),
		timeout: cfg.PermissionTimeout,
		version: cfg.Version,
	}
}

// Handle runs one call. Session errors become structured error replies.
// Anything else, including a panic, is logged and reported as Unknown.
func (d *Dispatcher) Handle(ctx context.Context, call Call) (reply Reply) {
	reply.ID = call.ID

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("method", call.Method).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Method call panicked")
			reply.Result = nil
			reply.Error = &ReplyError{
				Code:    session.Unknown.String(),
				Message: "Unexpected failure",
				Details: fmt.Sprint(r),
			}
		}
	}()

	d.log.Debug().Str("id", call.ID).Str("method", call.Method).Msg("Method call")

	result, err := d.dispatch(ctx, call)
	if err != nil {
		reply.Error = d.replyError(call.Method, err)
		return reply
	}
	reply.Result = result
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) (any, error) {
	switch call.Method {
	case MethodHasPermission:
		return d.gate.HasPermission(), nil

	case MethodInitializeRecorder:
		return d.initializeRecorder(ctx, call.Args)

	case MethodStartRecording:
		if err := d.session.Start(); err != nil {
			return nil, err
		}
		return true, nil

	case MethodStopRecording:
		if err := d.session.Stop(); err != nil {
			return nil, err
		}
		return true, nil

	case MethodPlatformVersion:
		return d.version()

	case MethodPermissionResult:
		return d.permissionResult(call.Args)

	default:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, call.Method)
	}
}

func (d *Dispatcher) initializeRecorder(ctx context.Context, args map[string]any) (any, error) {
	rate, _, err := intArg(args, "sampleRate")
	if err != nil {
		return nil, badRequest(err)
	}
	if rate < 0 {
		return nil, badRequest(fmt.Errorf("argument %q: must be positive", "sampleRate"))
	}
	showLogs, err := boolArg(args, "showLogs")
	if err != nil {
		return nil, badRequest(err)
	}

	p := d.session.Initialize(session.Options{SampleRate: rate, ShowLogs: showLogs})

	waitCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := p.Wait(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// The decision can still arrive later and finish initialization;
		// the caller learns about it from the recorderStatus event.
		d.log.Warn().Dur("timeout", d.timeout).Msg("Timed out waiting for microphone permission")
		return session.InitResult{}.Map(), nil
	}
	return res.Map(), nil
}

func (d *Dispatcher) permissionResult(args map[string]any) (any, error) {
	code, ok, err := intArg(args, "requestCode")
	if err != nil {
		return nil, badRequest(err)
	}
	if !ok {
		return nil, badRequest(fmt.Errorf("argument %q is required", "requestCode"))
	}
	results, err := intSliceArg(args, "grantResults")
	if err != nil {
		return nil, badRequest(err)
	}

	if d.host != nil && code == permissions.RecordAudioRequestCode {
		d.host.Record(results)
	}
	return d.gate.OnPermissionResult(code, results), nil
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

func (d *Dispatcher) replyError(method string, err error) *ReplyError {
	var serr *session.Error
	var breq *badRequestError
	switch {
	case errors.As(err, &serr):
		d.log.Warn().Err(err).Str("method", method).Msg("Method call failed")
		return &ReplyError{
			Code:    serr.Kind.String(),
			Message: serr.Message,
			Details: serr.Details(),
		}
	case errors.Is(err, ErrNotImplemented):
		return &ReplyError{Code: CodeNotImplemented, Message: err.Error()}
	case errors.As(err, &breq):
		return &ReplyError{Code: CodeBadRequest, Message: breq.Error()}
	default:
		d.log.Error().Err(err).Str("method", method).Msg("Unexpected method failure")
		return &ReplyError{
			Code:    session.Unknown.String(),
			Message: "Unexpected failure",
			Details: err.Error(),
		}
	}
}
