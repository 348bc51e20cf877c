package eventrule

import (
	"encoding/binary"
	"fmt"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// binReader is a small bounds-checked cursor over a deserialize source.
// Every length field is validated against the remaining buffer before
// use, and every declared string is checked for a NUL terminator
// within its declared length; failure is a hard reject.
type binReader struct {
	buf []byte
	off int
}

func newBinReader(buf []byte) *binReader {
	return &binReader{buf: buf}
}

func (b *binReader) remaining() int { return len(b.buf) - b.off }

func (b *binReader) readUint8() (uint8, error) {
	if b.remaining() < 1 {
		return 0, errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeShortBuffer)
	}
	v := b.buf[b.off]
	b.off++
	return v, nil
}

func (b *binReader) readInt8() (int8, error) {
	v, err := b.readUint8()
	return int8(v), err
}

func (b *binReader) readUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeShortBuffer)
	}
	v := binary.LittleEndian.Uint32(b.buf[b.off : b.off+4])
	b.off += 4
	return v, nil
}

func (b *binReader) readInt32() (int32, error) {
	v, err := b.readUint32()
	return int32(v), err
}

// readBytes reads exactly n bytes, rejecting if n exceeds what remains.
func (b *binReader) readBytes(n uint32) ([]byte, error) {
	if uint32(b.remaining()) < n {
		return nil, errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeBadLength)
	}
	v := b.buf[b.off : b.off+int(n)]
	b.off += int(n)
	return v, nil
}

// readNulString reads a length-prefixed-by-the-caller byte slice of
// size n and requires it end in exactly one NUL terminator, returning
// the string without it. An empty slice is an error (no terminator).
func readNulString(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty string field")
	}
	if raw[len(raw)-1] != 0 {
		return "", errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeUnterminated)
	}
	// Deliberately a separate re-check rather than collapsed into the
	// length check above — defense-in-depth against embedded NULs.
	for _, c := range raw[:len(raw)-1] {
		if c == 0 {
			return "", errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeUnterminated)
		}
	}
	return string(raw[:len(raw)-1]), nil
}
