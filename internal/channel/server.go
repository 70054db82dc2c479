package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/petems/soundstream/internal/session"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrNoSubscriber is returned when a message needs a connected host.
var ErrNoSubscriber = errors.New("channel: no host connected")

type ServerConfig struct {
	Addr      string
	Path      string
	Codec     Codec
	SendQueue int
	Logger    zerolog.Logger
}

// Server exposes a Handler to a single websocket subscriber. A new
// connection replaces the current one. Events are fire-and-forget: when a
// connection's send queue is full they are dropped.
type Server struct {
	addr      string
	path      string
	codec     Codec
	sendQueue int
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	handler  Handler
	current  *conn
	httpSrv  *http.Server
	listener net.Listener
	closed   bool
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Codec == nil {
		cfg.Codec = jsonCodec{}
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Server{
		addr:      cfg.Addr,
		path:      cfg.Path,
		codec:     cfg.Codec,
		sendQueue: cfg.SendQueue,
		log:       cfg.Logger.With().Str("component", "channel").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			// Hosts are local processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler attaches the method handler. Passing nil detaches it; calls
// arriving while detached are answered with notImplemented.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.serveWS)
	return mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Str("codec", s.codec.Name()).Msg("Channel listening")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once ListenAndServe is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and closes the subscriber.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	c := s.current
	s.current = nil
	s.mu.Unlock()

	if c != nil {
		c.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Emit sends a session event to the subscriber without blocking.
func (s *Server) Emit(ev session.Event) {
	s.send(newEvent(ev.Name, ev.Data))
}

// PromptPermission asks the host to show its permission dialog.
func (s *Server) PromptPermission(requestCode int) error {
	if !s.send(newEvent(EventPermissionRequest, requestCode)) {
		return ErrNoSubscriber
	}
	return nil
}

// Connected reports whether a subscriber is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Server) send(msg EventMessage) bool {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return false
	}

	data, err := s.codec.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Str("event", msg.Args.Name).Msg("Failed to encode event")
		return false
	}
	if !c.trySend(data) {
		c.log.Debug().Str("event", msg.Args.Name).Msg("Send queue full, dropping event")
	}
	return true
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, s.sendQueue),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	c.log = s.log.With().Str("conn_id", c.id).Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		ws.Close()
		return
	}
	prev := s.current
	s.current = c
	s.mu.Unlock()

	if prev != nil {
		prev.log.Info().Msg("Replaced by a new subscriber")
		prev.close()
	}
	c.log.Info().Str("remote", r.RemoteAddr).Msg("Subscriber connected")

	go c.writePump(s.codec.FrameType())
	s.readPump(c)

	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()
	c.close()
	c.log.Info().Msg("Subscriber disconnected")
}

func (s *Server) readPump(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Read error")
			}
			return
		}

		call, err := s.codec.UnmarshalCall(message)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed call")
			continue
		}
		if call.Method == "" {
			c.log.Warn().Str("id", call.ID).Msg("Dropping call without method")
			continue
		}

		go s.process(c, call)
	}
}

func (s *Server) process(c *conn, call Call) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	var reply Reply
	if h == nil {
		reply = Reply{
			ID:    call.ID,
			Error: &ReplyError{Code: CodeNotImplemented, Message: "no handler attached"},
		}
	} else {
		reply = h.Handle(c.ctx, call)
	}

	data, err := s.codec.Marshal(reply)
	if err != nil {
		c.log.Error().Err(err).Str("method", call.Method).Msg("Failed to encode reply")
		return
	}
	if !c.sendReply(data) {
		c.log.Debug().Str("method", call.Method).Msg("Connection closed before reply")
	}
}

type conn struct {
	id     string
	ws     *websocket.Conn
	log    zerolog.Logger
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// trySend queues an event, dropping it when the queue is full.
func (c *conn) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendReply queues a reply, waiting for room unless the connection closes.
func (c *conn) sendReply(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) writePump(frameType int) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(frameType, message); err != nil {
				c.log.Warn().Err(err).Msg("Write error")
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.ws.Close()
	})
}
