package rfbserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Transport is an ordered, reliable byte-stream duplex channel. The
// core is agnostic to whether it is raw TCP or WebSocket-framed;
// framing is the collaborator's concern.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// SessionState tracks where a connection is in the RFB handshake.
type SessionState int32

const (
	StateAwaitingVersion SessionState = iota
	StateAwaitingSecurityChoice
	StateAwaitingSecurityResult
	StateAwaitingClientInit
	StateSteady
	StateClosed
)

// String implements the fmt.Stringer interface.
func (s SessionState) String() string {
	switch s {
	case StateAwaitingVersion:
		return "awaiting-version"
	case StateAwaitingSecurityChoice:
		return "awaiting-security-choice"
	case StateAwaitingSecurityResult:
		return "awaiting-security-result"
	case StateAwaitingClientInit:
		return "awaiting-client-init"
	case StateSteady:
		return "steady"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Supported protocol versions. The server offers 3.8 and accepts any
// 3.x client, degrading to the 3.3 or 3.7 handshake variants.
const (
	protoMajor   = 3
	minorLegacy  = 3
	minorChoice  = 7
	minorCurrent = 8
)

// Session is one client connection. Its state machine is mutated only
// by the session's own goroutines; the shared framebuffer is reached
// through snapshot reads. All failures terminate this session and no
// other.
type Session struct {
	server *Server
	t      Transport
	br     *bufio.Reader
	remote string
	logger *slog.Logger

	state atomic.Int32

	minor    int
	secType  SecurityType
	shared   bool
	format   PixelFormat
	geometry Rectangle

	dirty *DirtySet
	sched *updateScheduler

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(srv *Server, t Transport, remote string) *Session {
	return &Session{
		server: srv,
		t:      t,
		br:     bufio.NewReader(t),
		remote: remote,
		logger: srv.logger.With("remote", remote),
		done:   make(chan struct{}),
	}
}

// State returns the session's current handshake state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Remote returns the peer address the session was accepted from.
func (s *Session) Remote() string {
	return s.remote
}

// run drives the session to completion. It returns when the client
// disconnects or a protocol error terminates the session.
func (s *Session) run(ctx context.Context) {
	defer s.Close()

	if err := s.handshake(ctx); err != nil {
		metricHandshakeFailures.Inc()
		s.logger.Warn("handshake failed", "error", err)
		return
	}
	s.logger.Info("session established",
		"version", fmt.Sprintf("3.%d", s.minor),
		"security", s.secType,
		"shared", s.shared,
		"geometry", s.geometry)

	go s.updateLoop(ctx)

	if err := s.readLoop(); err != nil && !isDisconnect(err) {
		s.logger.Warn("session terminated", "error", err)
	}
}

// handshake walks AwaitingVersion through AwaitingClientInit and sends
// ServerInit, leaving the session in Steady.
func (s *Session) handshake(ctx context.Context) error {
	_, span := s.server.tracer.Start(ctx, "rfb.handshake",
		trace.WithAttributes(attribute.String("rfb.remote", s.remote)))
	defer span.End()

	if err := s.negotiateVersion(); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("rfb.minor", s.minor))

	if err := s.negotiateSecurity(); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("rfb.security_type", int(s.secType)))

	return s.exchangeInit()
}

// negotiateVersion sends the server's version string and interprets
// the client's reply. Only major version 3 is spoken; the negotiated
// minor is the lower of the two, snapped down to 3.3 for anything
// below 3.7.
func (s *Session) negotiateVersion() error {
	s.setState(StateAwaitingVersion)
	if err := s.write(FormatProtocolVersion(protoMajor, minorCurrent)); err != nil {
		return &ServerError{Op: "version", Code: ErrTransport, Err: err}
	}

	buf := make([]byte, protocolVersionLen)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return &ServerError{Op: "version", Code: ErrTransport, Err: err}
	}
	major, minor, err := ParseProtocolVersion(buf)
	if err != nil {
		return &ServerError{Op: "version", Code: ErrProtocol, Err: err}
	}
	if major != protoMajor {
		s.writeReasoned("unsupported protocol version")
		return serverErrorf("version", ErrUnsupported, "client offered %d.%d, server speaks 3.x", major, minor)
	}
	switch {
	case minor >= minorCurrent:
		s.minor = minorCurrent
	case minor >= minorChoice:
		s.minor = minorChoice
	default:
		s.minor = minorLegacy
	}
	return nil
}

// negotiateSecurity runs the 3.3 or 3.7+ security handshake branch.
// Under 3.3 there is no type-selection message: the server picks
// unilaterally and announces its pick as a u32.
func (s *Session) negotiateSecurity() error {
	s.setState(StateAwaitingSecurityChoice)
	handlers := s.server.cfg.SecurityHandlers

	if s.minor == minorLegacy {
		if len(handlers) == 0 {
			s.writeUint32(uint32(SecTypeInvalid))
			s.writeReasoned("no supported security types")
			return serverErrorf("security", ErrUnsupported, "no security types configured")
		}
		// Types above 2 do not exist in 3.3.
		var chosen SecurityHandler
		for _, h := range handlers {
			if h.Type() == SecTypeNone || h.Type() == SecTypeVNC {
				chosen = h
				break
			}
		}
		if chosen == nil {
			s.writeUint32(uint32(SecTypeInvalid))
			s.writeReasoned("no 3.3-compatible security types")
			return serverErrorf("security", ErrUnsupported, "no 3.3-compatible security type")
		}
		if err := s.writeUint32(uint32(chosen.Type())); err != nil {
			return &ServerError{Op: "security", Code: ErrTransport, Err: err}
		}
		return s.runAuth(chosen)
	}

	if len(handlers) == 0 {
		s.write([]byte{0})
		s.writeReasoned("no supported security types")
		return serverErrorf("security", ErrUnsupported, "no security types configured")
	}
	list := make([]byte, 0, len(handlers)+1)
	list = append(list, uint8(len(handlers)))
	for _, h := range handlers {
		list = append(list, uint8(h.Type()))
	}
	if err := s.write(list); err != nil {
		return &ServerError{Op: "security", Code: ErrTransport, Err: err}
	}

	choice, err := s.br.ReadByte()
	if err != nil {
		return &ServerError{Op: "security", Code: ErrTransport, Err: err}
	}
	for _, h := range handlers {
		if uint8(h.Type()) == choice {
			return s.runAuth(h)
		}
	}
	if s.minor >= minorCurrent {
		s.writeUint32(secResultFailed)
		s.writeReasoned("security type not supported")
	}
	return serverErrorf("security", ErrUnsupported, "client selected unsupported security type %d", choice)
}

// runAuth executes the chosen security handler and, where the
// negotiated version defines one, writes the SecurityResult. Under 3.8
// every type gets a result; under 3.3 and 3.7 the None type completes
// with an implicit success.
func (s *Session) runAuth(h SecurityHandler) error {
	s.setState(StateAwaitingSecurityResult)
	s.secType = h.Type()

	authErr := h.Auth(&sessionRW{s})
	wantResult := s.minor >= minorCurrent || h.Type() != SecTypeNone

	if authErr != nil {
		if wantResult {
			s.writeUint32(secResultFailed)
			if s.minor >= minorCurrent {
				s.writeReasoned("authentication failed")
			}
		}
		return &ServerError{Op: "auth", Code: ErrUnsupported, Err: authErr}
	}
	if wantResult {
		if err := s.writeUint32(secResultOK); err != nil {
			return &ServerError{Op: "auth", Code: ErrTransport, Err: err}
		}
	}
	return nil
}

// exchangeInit reads ClientInit and answers with ServerInit, fixing
// the session's pixel format and geometry for its lifetime.
func (s *Session) exchangeInit() error {
	s.setState(StateAwaitingClientInit)
	sharedFlag, err := s.br.ReadByte()
	if err != nil {
		return &ServerError{Op: "client-init", Code: ErrTransport, Err: err}
	}
	s.shared = sharedFlag != 0
	if !s.shared {
		s.server.disconnectOthers(s)
	}

	snap := s.server.fb.Latest()
	s.format = snap.Format
	s.geometry = snap.Bounds()
	s.dirty = NewDirtySet(snap.Width, snap.Height)
	s.sched = newUpdateScheduler(s.server.registry, s.server.fb, s.dirty)

	init := &ServerInit{
		FBWidth:     snap.Width,
		FBHeight:    snap.Height,
		PixelFormat: snap.Format,
		NameText:    []byte(s.server.cfg.DesktopName),
	}
	buf := &bytes.Buffer{}
	if err := init.Write(buf); err != nil {
		return &ServerError{Op: "server-init", Code: ErrInternal, Err: err}
	}
	if err := s.write(buf.Bytes()); err != nil {
		return &ServerError{Op: "server-init", Code: ErrTransport, Err: err}
	}
	s.setState(StateSteady)
	return nil
}

// readLoop is the steady-state dispatch loop. Transport bytes are
// accumulated and parsed incrementally; messages are processed
// strictly in arrival order because later state depends on earlier
// messages.
func (s *Session) readLoop() error {
	var pending []byte
	chunk := make([]byte, 4096)
	for {
		// Drain buffered messages before blocking on the transport.
		for {
			msg, n, err := ParseClientMessage(pending)
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			if err != nil {
				var malformed *MalformedMessageError
				if errors.As(err, &malformed) {
					s.logger.Warn("malformed message",
						"msg_type", malformed.MsgType,
						"offset", malformed.Offset,
						"reason", malformed.Reason)
				}
				return &ServerError{Op: "dispatch", Code: ErrProtocol, Err: err}
			}
			pending = pending[n:]
			if err := s.dispatch(msg); err != nil {
				return err
			}
		}

		n, err := s.br.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
		}
		if err != nil {
			return &ServerError{Op: "read", Code: ErrTransport, Err: err}
		}
	}
}

// dispatch interprets one steady-state client message.
func (s *Session) dispatch(msg ClientMessage) error {
	switch m := msg.(type) {
	case *SetPixelFormat:
		// The server publishes one canonical format at ServerInit and
		// does not re-encode; a client demanding a different format
		// cannot be satisfied.
		if m.PF != s.format {
			return serverErrorf("set-pixel-format", ErrUnsupported,
				"client requested %s, session format is %s", m.PF, s.format)
		}

	case *SetEncodings:
		s.logger.Debug("set encodings", "encodings", m.Encodings)
		s.sched.SetPreferences(m.Encodings)

	case *FramebufferUpdateRequest:
		s.sched.HandleRequest(m)

	case *KeyEvent:
		if h := s.server.cfg.Input; h != nil {
			h.KeyEvent(m.Key, m.Down != 0)
		}

	case *PointerEvent:
		if h := s.server.cfg.Input; h != nil {
			h.PointerEvent(m.X, m.Y, m.Mask)
		}

	case *ClientCutText:
		if h := s.server.cfg.CutText; h != nil {
			h(string(m.Text))
		}
	}
	return nil
}

// updateLoop waits for update requests and dirty-set changes and
// flushes due updates. It is the only writer in steady state, so a
// FramebufferUpdate is always a single uninterrupted byte sequence.
func (s *Session) updateLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		case <-s.sched.Kick():
		case <-s.dirty.Wake():
		}

		_, span := s.server.tracer.Start(ctx, "rfb.update")
		msg, err := s.sched.BuildUpdate()
		if err != nil {
			// Internal invariant violation; crashes only this session.
			span.End()
			s.logger.Error("update build failed", "error", err)
			s.Close()
			return
		}
		if msg == nil {
			span.End()
			continue
		}
		span.SetAttributes(attribute.Int("rfb.rectangles", len(msg.Rects)))
		err = s.sendUpdate(msg)
		span.End()
		if err != nil {
			if !isDisconnect(err) {
				s.logger.Warn("update write failed", "error", err)
			}
			s.Close()
			return
		}
	}
}

// sendUpdate serializes a FramebufferUpdate and writes it in one
// transport write; no partial framebuffer data ever reaches the wire.
func (s *Session) sendUpdate(msg *FramebufferUpdate) error {
	buf := bPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bPool.Put(buf)

	if err := msg.Write(buf); err != nil {
		return err
	}
	if err := s.write(buf.Bytes()); err != nil {
		return err
	}
	for _, rect := range msg.Rects {
		metricUpdateRects.WithLabelValues(rect.Enc.String()).Inc()
	}
	metricBytesSent.Add(float64(buf.Len()))
	return nil
}

// SendBell rings the client's bell. Steady state only; the message is
// a single byte so it interleaves safely with updates under writeMu.
func (s *Session) SendBell() error {
	if s.State() != StateSteady {
		return serverErrorf("bell", ErrProtocol, "session not in steady state")
	}
	buf := &bytes.Buffer{}
	if err := (&Bell{}).Write(buf); err != nil {
		return err
	}
	return s.write(buf.Bytes())
}

// SendCutText pushes server clipboard text to the client.
func (s *Session) SendCutText(text string) error {
	if s.State() != StateSteady {
		return serverErrorf("cut-text", ErrProtocol, "session not in steady state")
	}
	buf := &bytes.Buffer{}
	if err := (&ServerCutText{Text: []byte(text)}).Write(buf); err != nil {
		return err
	}
	return s.write(buf.Bytes())
}

// terminateForResize closes the session after a capture resize. RFB
// has no standard resize message before the desktop-size extension, so
// continuing would corrupt the client's view of the framebuffer.
func (s *Session) terminateForResize(w, h uint16) {
	s.logger.Warn("framebuffer resized mid-session, terminating",
		"negotiated", s.geometry, "new", fmt.Sprintf("%dx%d", w, h))
	s.Close()
}

// Close releases the session. Safe to call from any goroutine and more
// than once; the first call wins.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		s.t.Close()
		s.server.removeSession(s)
		s.logger.Info("session closed")
	})
}

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.t.Write(p)
	return err
}

func (s *Session) writeUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return s.write(buf[:])
}

// writeReasoned sends the protocol's reason-string form used by the
// failure paths: u32 length followed by the string. Write errors are
// ignored; the session is terminating either way.
func (s *Session) writeReasoned(reason string) {
	buf := make([]byte, 4+len(reason))
	binary.BigEndian.PutUint32(buf, uint32(len(reason)))
	copy(buf[4:], reason)
	s.write(buf)
}

// sessionRW adapts the session's buffered reader and serialized writer
// for security handlers.
type sessionRW struct {
	s *Session
}

func (rw *sessionRW) Read(p []byte) (int, error) {
	return rw.s.br.Read(p)
}

func (rw *sessionRW) Write(p []byte) (int, error) {
	if err := rw.s.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF)
}
