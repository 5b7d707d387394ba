package keys

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Label renders a short human-readable name for a record, as shown in a key
// listing.
func Label(r Record) string {
	switch v := r.(type) {
	case Named:
		return v.Name
	case Chunk:
		if v.Subtype == SubChunkPrefix {
			return fmt.Sprintf("(%d, %d; %d) SubChunk %d", v.X, v.Z, v.Dimension, v.SubchunkIndex)
		}
		return fmt.Sprintf("(%d, %d; %d) %s", v.X, v.Z, v.Dimension, v.Subtype)
	case Actor:
		return fmt.Sprintf("Actor %d", v.ID)
	case ActorDigest:
		return fmt.Sprintf("Actor Digest (%d, %d; %d)", v.X, v.Z, v.Dimension)
	case Village:
		return fmt.Sprintf("Village %s (%s)", v.UUID, v.Subtype)
	default:
		return Hex(r.Raw())
	}
}

// Preview renders the raw key bytes together with their decoded form.
func Preview(r Record) string {
	h := Hex(r.Raw())
	switch v := r.(type) {
	case Named, Chunk:
		return "[" + h + "]"
	case Actor:
		return fmt.Sprintf("[%s, actorprefix%d]", h, v.ID)
	case ActorDigest:
		return fmt.Sprintf("[%s, digp%s]", h, Hex(v.Raw()[len(digestPrefix):]))
	case Village:
		return fmt.Sprintf("[%s, VILLAGE_%s%s_%s]", h, v.Dimension, v.UUID, v.Subtype)
	default:
		return fmt.Sprintf("[%s, %s]", h, ASCII(r.Raw()))
	}
}

// Hex returns the upper-case hex encoding of b.
func Hex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ASCII decodes b as 7-bit ASCII, replacing every byte above 0x7F with '?'.
func ASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c > 0x7f {
			c = '?'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
