package rfbserver

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InputHandler receives remote input events. Implementations inject
// them into the platform (X11, Windows); the core only dispatches.
type InputHandler interface {
	KeyEvent(key Key, down bool)
	PointerEvent(x, y uint16, buttons Button)
}

// Config configures a Server.
type Config struct {
	// DesktopName is sent in ServerInit.
	DesktopName string

	// SecurityHandlers lists the acceptable security types in
	// advertisement order. Defaults to the None type.
	SecurityHandlers []SecurityHandler

	// Registry supplies the encoding codecs. Defaults to
	// DefaultRegistry.
	Registry *Registry

	// Input receives key and pointer events. Optional.
	Input InputHandler

	// CutText receives client clipboard text. Optional.
	CutText func(text string)

	// Recorder, when set, receives every pushed frame. Optional.
	Recorder *Recorder

	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger
}

// Server accepts RFB client connections and shares one framebuffer
// with all of them. Sessions live in an explicit map owned by the
// server; there is no ambient global state.
type Server struct {
	cfg      Config
	fb       *Framebuffer
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// New creates a server around an initial framebuffer snapshot. The
// capture collaborator keeps the framebuffer current through
// PushFrame.
func New(cfg Config, initial *Snapshot) *Server {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if len(cfg.SecurityHandlers) == 0 {
		cfg.SecurityHandlers = []SecurityHandler{&ServerAuthNone{}}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DesktopName == "" {
		cfg.DesktopName = "rfbserver"
	}
	return &Server{
		cfg:      cfg,
		fb:       NewFramebuffer(initial),
		registry: cfg.Registry,
		logger:   cfg.Logger.With("component", "rfb"),
		tracer:   otel.Tracer("rfbserver"),
		sessions: make(map[*Session]struct{}),
	}
}

// Framebuffer returns the server's framebuffer handle.
func (srv *Server) Framebuffer() *Framebuffer {
	return srv.fb
}

// Serve accepts connections until the listener closes or the context
// is cancelled. Each accepted connection runs its own session.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		srv.ServeTransport(ctx, conn, conn.RemoteAddr().String())
	}
}

// ServeTransport runs one session over an already-established byte
// stream. This is the entry point transport collaborators use: raw
// TCP from Serve, WebSocket streams from the websocket handler, pipes
// from tests.
func (srv *Server) ServeTransport(ctx context.Context, t Transport, remote string) *Session {
	sess := newSession(srv, t, remote)
	srv.mu.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mu.Unlock()
	metricActiveSessions.Inc()
	go sess.run(ctx)
	return sess
}

// PushFrame installs a new capture snapshot and fans the changed
// rectangles out to every session's dirty set. A snapshot with
// different geometry terminates all sessions negotiated at the old
// size; RFB cannot express a resize without the desktop-size
// extension.
func (srv *Server) PushFrame(snap *Snapshot, changed []Rectangle) {
	resized := srv.fb.Swap(snap)

	if rec := srv.cfg.Recorder; rec != nil {
		rec.AddFrame(snap)
	}

	for _, sess := range srv.snapshotSessions() {
		if sess.State() != StateSteady {
			continue
		}
		if resized {
			sess.terminateForResize(snap.Width, snap.Height)
			continue
		}
		sess.dirty.Add(changed...)
	}
}

// Bell rings the bell on every steady session.
func (srv *Server) Bell() {
	for _, sess := range srv.snapshotSessions() {
		if sess.State() == StateSteady {
			sess.SendBell()
		}
	}
}

// SendCutText pushes clipboard text to every steady session.
func (srv *Server) SendCutText(text string) {
	for _, sess := range srv.snapshotSessions() {
		if sess.State() == StateSteady {
			sess.SendCutText(text)
		}
	}
}

// Sessions returns the currently registered sessions.
func (srv *Server) Sessions() []*Session {
	return srv.snapshotSessions()
}

func (srv *Server) snapshotSessions() []*Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*Session, 0, len(srv.sessions))
	for sess := range srv.sessions {
		out = append(out, sess)
	}
	return out
}

// disconnectOthers implements ClientInit shared=0: every other client
// is dropped in favor of the exclusive newcomer.
func (srv *Server) disconnectOthers(keep *Session) {
	for _, sess := range srv.snapshotSessions() {
		if sess != keep {
			sess.Close()
		}
	}
}

func (srv *Server) removeSession(sess *Session) {
	srv.mu.Lock()
	_, present := srv.sessions[sess]
	delete(srv.sessions, sess)
	srv.mu.Unlock()
	if present {
		metricActiveSessions.Dec()
	}
}
