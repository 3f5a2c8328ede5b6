package rfbserver

// RawEncoder emits the rectangle's pixels verbatim in scan-line order,
// pixel-format-native byte layout. No compression; it is the baseline
// every client can decode and the fallback when no negotiated encoding
// matches.
type RawEncoder struct{}

// Type implements the Encoder interface.
func (*RawEncoder) Type() EncodingType { return EncRaw }

// Encode implements the Encoder interface.
func (*RawEncoder) Encode(snap *Snapshot, rect Rectangle) ([]byte, error) {
	return snap.Extract(rect), nil
}
