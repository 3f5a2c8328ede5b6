package rfbserver

import (
	"sync"
)

// updateScheduler decides what one session sends in response to
// FramebufferUpdateRequest. It reconciles the session's dirty set with
// the requested region and the client's encoding preferences, honoring
// the protocol's pull model: the server never sends an unsolicited
// update, and an incremental request with nothing dirty is deferred
// until a capture change lands inside it.
type updateScheduler struct {
	registry *Registry
	fb       *Framebuffer
	dirty    *DirtySet

	mu       sync.Mutex
	prefs    []EncodingType
	pending  *FramebufferUpdateRequest
	encoders map[EncodingType]Encoder

	kick chan struct{}
}

func newUpdateScheduler(registry *Registry, fb *Framebuffer, dirty *DirtySet) *updateScheduler {
	return &updateScheduler{
		registry: registry,
		fb:       fb,
		dirty:    dirty,
		encoders: make(map[EncodingType]Encoder),
		kick:     make(chan struct{}, 1),
	}
}

// Kick returns the channel signalled when a new update request needs
// servicing.
func (s *updateScheduler) Kick() <-chan struct{} {
	return s.kick
}

// SetPreferences stores the client's ordered encoding preferences.
func (s *updateScheduler) SetPreferences(prefs []EncodingType) {
	s.mu.Lock()
	s.prefs = append([]EncodingType(nil), prefs...)
	s.mu.Unlock()
}

// HandleRequest records a FramebufferUpdateRequest. A non-incremental
// request marks the whole requested region dirty regardless of prior
// state; the client is explicitly asking for a full redraw. Only one
// request is outstanding at a time; a newer one replaces the old.
func (s *updateScheduler) HandleRequest(req *FramebufferUpdateRequest) {
	if req.Incremental == 0 {
		s.dirty.Add(req.Region())
	}
	s.mu.Lock()
	s.pending = req
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// BuildUpdate drains the dirty area overlapping the pending request
// and encodes it. It returns nil with no error when nothing is due:
// either no request is pending, or the request is incremental and the
// dirty set has nothing inside it yet (the request then stays pending
// for the next capture change).
func (s *updateScheduler) BuildUpdate() (*FramebufferUpdate, error) {
	s.mu.Lock()
	req := s.pending
	s.mu.Unlock()
	if req == nil {
		return nil, nil
	}

	snap := s.fb.Latest()
	region, ok := req.Region().Clip(snap.Width, snap.Height)
	if !ok {
		// Request entirely outside the framebuffer; nothing to send.
		s.clearPending(req)
		return nil, nil
	}

	rects := s.dirty.TakeIntersecting(region)
	if len(rects) == 0 {
		return nil, nil
	}
	s.clearPending(req)

	enc := s.selectEncoder()
	bounds := snap.Bounds()
	msg := &FramebufferUpdate{Rects: make([]UpdateRect, 0, len(rects))}
	for _, rect := range rects {
		if !bounds.Contains(rect) {
			return nil, serverErrorf("scheduler", ErrInternal,
				"dirty rectangle %s outside framebuffer %s", rect, bounds)
		}
		data, err := enc.Encode(snap, rect)
		if err != nil {
			return nil, serverErrorf("scheduler", ErrInternal, "encode %s: %v", enc.Type(), err)
		}
		msg.Rects = append(msg.Rects, UpdateRect{Rect: rect, Enc: enc.Type(), Data: data})
	}
	return msg, nil
}

func (s *updateScheduler) clearPending(req *FramebufferUpdateRequest) {
	s.mu.Lock()
	if s.pending == req {
		s.pending = nil
	}
	s.mu.Unlock()
}

// selectEncoder picks the first client-preferred encoding present in
// the registry, falling back to Raw when the preference list is empty
// or matches nothing. Codec instances persist for the session so
// stream-stateful encodings keep their streams.
func (s *updateScheduler) selectEncoder() Encoder {
	s.mu.Lock()
	defer s.mu.Unlock()

	chosen := EncRaw
	for _, t := range s.prefs {
		if s.registry.Supports(t) {
			chosen = t
			break
		}
	}
	if enc, ok := s.encoders[chosen]; ok {
		return enc
	}
	enc, ok := s.registry.Instance(chosen)
	if !ok {
		enc = &RawEncoder{}
	}
	s.encoders[chosen] = enc
	return enc
}
