package rfbserver

import (
	"bytes"
	"sync"
)

// EncodingType identifies a VNC encoding on the wire.
type EncodingType int32

const (
	EncRaw      EncodingType = 0
	EncCopyRect EncodingType = 1
	EncRRE      EncodingType = 2
	EncCoRRE    EncodingType = 4
	EncHextile  EncodingType = 5
	EncZlib     EncodingType = 6
	EncTight    EncodingType = 7
	EncZlibHex  EncodingType = 8
	EncTRLE     EncodingType = 15
	EncZRLE     EncodingType = 16

	EncColorPseudo       EncodingType = -239
	EncDesktopSizePseudo EncodingType = -223
	EncLastRectPseudo    EncodingType = -224
	EncDesktopNamePseudo EncodingType = -307
)

// String implements the fmt.Stringer interface.
func (t EncodingType) String() string {
	switch t {
	case EncRaw:
		return "raw"
	case EncCopyRect:
		return "copyrect"
	case EncRRE:
		return "rre"
	case EncHextile:
		return "hextile"
	case EncZlib:
		return "zlib"
	case EncTRLE:
		return "trle"
	case EncZRLE:
		return "zrle"
	default:
		return "unknown"
	}
}

var bPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Encoder serializes one framebuffer rectangle into the encoding's
// wire representation. The returned bytes are the rectangle body only;
// the caller writes the 12-byte rectangle header. The rectangle is
// guaranteed to lie inside the snapshot bounds (the update scheduler
// checks before invoking), and the snapshot's pixel format is the
// session's negotiated format. Encoders may keep encode-time state
// (Hextile's previous tile colors, Zlib's stream) but that state is
// scoped to one session; instances are never shared.
type Encoder interface {
	Type() EncodingType
	Encode(snap *Snapshot, rect Rectangle) ([]byte, error)
}

// Registry maps encoding-type numbers to codec constructors. It is
// populated once at process start and read-only thereafter; sessions
// call Instance to get private codec state.
type Registry struct {
	constructors map[EncodingType]func() Encoder
	order        []EncodingType
}

// NewRegistry returns a registry holding the given codecs.
func NewRegistry(constructors ...func() Encoder) *Registry {
	r := &Registry{constructors: make(map[EncodingType]func() Encoder)}
	for _, newEnc := range constructors {
		t := newEnc().Type()
		if _, dup := r.constructors[t]; dup {
			continue
		}
		r.constructors[t] = newEnc
		r.order = append(r.order, t)
	}
	return r
}

// DefaultRegistry returns the registry of codecs this server ships.
// Raw is always present as the universal fallback.
func DefaultRegistry() *Registry {
	return NewRegistry(
		func() Encoder { return &RawEncoder{} },
		func() Encoder { return &HextileEncoder{} },
		func() Encoder { return &RREEncoder{} },
		func() Encoder { return NewZlibEncoder() },
		func() Encoder { return NewZRLEEncoder() },
	)
}

// Supports reports whether the registry holds a codec for t.
func (r *Registry) Supports(t EncodingType) bool {
	_, ok := r.constructors[t]
	return ok
}

// Instance returns a fresh codec for t, or false if unregistered.
func (r *Registry) Instance(t EncodingType) (Encoder, bool) {
	newEnc, ok := r.constructors[t]
	if !ok {
		return nil, false
	}
	return newEnc(), true
}

// Types lists the registered encoding types in registration order.
func (r *Registry) Types() []EncodingType {
	out := make([]EncodingType, len(r.order))
	copy(out, r.order)
	return out
}
