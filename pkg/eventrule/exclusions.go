package eventrule

import "encoding/binary"

// GenerateExclusions returns a packed structure of N fixed-length
// names for a user-space tracepoint with at least one exclusion: a
// header (count, len_per_name) followed by count NUL-padded blocks.
// For every other domain/variant it returns nil.
func GenerateExclusions(r Rule) []byte {
	tp, ok := r.(*Tracepoint)
	if !ok || !tp.Domain.SupportsExclusions() || len(tp.Exclusions) == 0 {
		return nil
	}

	lenPerName := 0
	for _, e := range tp.Exclusions {
		if len(e)+1 > lenPerName {
			lenPerName = len(e) + 1
		}
	}

	out := make([]byte, 8+len(tp.Exclusions)*lenPerName)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(tp.Exclusions)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(lenPerName))

	for i, e := range tp.Exclusions {
		base := 8 + i*lenPerName
		copy(out[base:base+len(e)], e)
		// remaining bytes in the block are already zero (NUL-padded)
	}
	return out
}

// ParseExclusions is the inverse of GenerateExclusions, used by tests
// and by the command engine when re-reading a packed exclusion blob.
func ParseExclusions(packed []byte) []string {
	if len(packed) < 8 {
		return nil
	}
	count := binary.LittleEndian.Uint32(packed[0:4])
	lenPerName := binary.LittleEndian.Uint32(packed[4:8])
	if lenPerName == 0 {
		return nil
	}
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		base := 8 + i*lenPerName
		if base+lenPerName > uint32(len(packed)) {
			break
		}
		block := packed[base : base+lenPerName]
		n := 0
		for n < len(block) && block[n] != 0 {
			n++
		}
		out = append(out, string(block[:n]))
	}
	return out
}
