package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

// SerializeGeometry encodes a geometry for the wire and the local store.
// Versioned containers use base64-encoded WKB: versioned transactions must
// preserve the exact binary geometry, including Z-ordinate markers that do
// not always round-trip through WKT. Non-versioned containers use WKT.
// A nil geometry serializes to the empty string.
//
// The encoding choice is driven solely by the container's versioning flag.
// Mixing encodings between the local store and the remote transaction would
// corrupt geometry silently, so callers never pick the encoding themselves.
func SerializeGeometry(g orb.Geometry, versioned bool) (string, error) {
	if g == nil {
		return "", nil
	}
	if versioned {
		raw, err := wkb.Marshal(g)
		if err != nil {
			return "", fmt.Errorf("failed to encode geometry as WKB: %w", err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	}
	return wkt.MarshalString(g), nil
}

// DeserializeGeometry decodes a wire geometry string. The empty string
// decodes to a nil geometry ("no geometry"), matching SerializeGeometry.
func DeserializeGeometry(s string, versioned bool) (orb.Geometry, error) {
	if s == "" {
		return nil, nil
	}
	if versioned {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 geometry: %w", err)
		}
		g, err := wkb.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid WKB geometry: %w", err)
		}
		return g, nil
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid WKT geometry: %w", err)
	}
	return g, nil
}
