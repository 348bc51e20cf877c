package eventrule

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// Serialize writes rule to sink using the fixed header (8-bit type
// tag) plus a variant-specific body.
func Serialize(w io.Writer, r Rule) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Type()))

	switch v := r.(type) {
	case *Tracepoint:
		if err := serializeTracepoint(&buf, v); err != nil {
			return err
		}
	case *Syscall:
		serializeSyscall(&buf, v)
	case *KernelProbe:
		serializeLocationOnly(&buf, v.Location)
	case *UserSpaceProbe:
		serializeLocationOnly(&buf, v.Location)
		serializeNulString(&buf, v.EventName)
	case *KernelFunction:
		return errkind.New("eventrule.Serialize", errkind.EventRuleUnsupportedVariant)
	default:
		return errkind.New("eventrule.Serialize", errkind.EventRuleUnsupportedVariant)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func serializeNulString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)+1))
	buf.Write(n[:])
	buf.WriteString(s)
	buf.WriteByte(0)
}

func serializeLocationOnly(buf *bytes.Buffer, location string) {
	serializeNulString(buf, location)
}

func serializeSyscall(buf *bytes.Buffer, r *Syscall) {
	patternLen := uint32(len(r.Pattern) + 1)
	var filterLen uint32
	if r.HasFilter {
		filterLen = uint32(len(r.Filter) + 1)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], patternLen)
	buf.Write(lenBuf[:])
	binary.LittleEndian.PutUint32(lenBuf[:], filterLen)
	buf.Write(lenBuf[:])

	buf.WriteString(r.Pattern)
	buf.WriteByte(0)
	if r.HasFilter {
		buf.WriteString(r.Filter)
		buf.WriteByte(0)
	}
}

// serializeTracepoint implements the exact body layout:
//
//	{int8 domain, uint32 pattern_len, uint32 filter_len,
//	 uint32 log_level_rule_len, uint32 exclusion_count,
//	 uint32 exclusions_total_len,
//	 <pattern bytes incl. NUL>, <filter bytes incl. NUL or empty>,
//	 <log-level rule blob>,
//	 <repeat exclusion_count times: uint32 len, bytes incl. NUL>}
//
// log_level_rule_len is back-patched in place after the log-level
// rule blob is emitted, matching the upstream wire format verbatim
// even though the value could be computed up front (the blob is
// fixed-size).
func serializeTracepoint(buf *bytes.Buffer, r *Tracepoint) error {
	buf.WriteByte(byte(int8(r.Domain)))

	patternLen := uint32(len(r.Pattern) + 1)
	var filterLen uint32
	if r.HasFilter {
		filterLen = uint32(len(r.Filter) + 1)
	}
	exclusionCount := uint32(len(r.Exclusions))
	var exclusionsTotalLen uint32
	for _, e := range r.Exclusions {
		exclusionsTotalLen += uint32(len(e) + 1 + 4) // +4 for each exclusion's own length prefix
	}

	var lenBuf [4]byte
	writeU32 := func(v uint32) { binary.LittleEndian.PutUint32(lenBuf[:], v); buf.Write(lenBuf[:]) }

	writeU32(patternLen)
	writeU32(filterLen)
	logLevelLenOffset := buf.Len()
	writeU32(0) // placeholder, back-patched below
	writeU32(exclusionCount)
	writeU32(exclusionsTotalLen)

	buf.WriteString(r.Pattern)
	buf.WriteByte(0)
	if r.HasFilter {
		buf.WriteString(r.Filter)
		buf.WriteByte(0)
	}

	logLevelStart := buf.Len()
	if r.LogLevelRule != nil {
		buf.WriteByte(byte(r.LogLevelRule.Kind))
		var lvl [4]byte
		binary.LittleEndian.PutUint32(lvl[:], uint32(int32(r.LogLevelRule.Level)))
		buf.Write(lvl[:])
	}
	logLevelLen := uint32(buf.Len() - logLevelStart)
	patched := buf.Bytes()
	binary.LittleEndian.PutUint32(patched[logLevelLenOffset:logLevelLenOffset+4], logLevelLen)

	for _, e := range r.Exclusions {
		writeU32(uint32(len(e) + 1))
		buf.WriteString(e)
		buf.WriteByte(0)
	}
	return nil
}

// Deserialize is the inverse of Serialize: it validates every length
// field against the remaining source length and rejects malformed
// input hard.
func Deserialize(source []byte) (Rule, error) {
	br := newBinReader(source)
	tag, err := br.readUint8()
	if err != nil {
		return nil, err
	}

	switch RuleType(tag) {
	case RuleTracepoint:
		return deserializeTracepoint(br)
	case RuleSyscall:
		return deserializeSyscall(br)
	case RuleKernelProbe:
		loc, err := deserializeNulField(br)
		if err != nil {
			return nil, err
		}
		return &KernelProbe{Location: loc, refcount: 1}, nil
	case RuleUserSpaceProbe:
		loc, err := deserializeNulField(br)
		if err != nil {
			return nil, err
		}
		name, err := deserializeNulField(br)
		if err != nil {
			return nil, err
		}
		return &UserSpaceProbe{Location: loc, EventName: name, refcount: 1}, nil
	case RuleKernelFunction:
		return nil, errkind.New("eventrule.Deserialize", errkind.EventRuleUnsupportedVariant)
	default:
		return nil, errkind.New("eventrule.Deserialize", errkind.EventRuleUnsupportedVariant)
	}
}

func deserializeNulField(br *binReader) (string, error) {
	n, err := br.readUint32()
	if err != nil {
		return "", err
	}
	raw, err := br.readBytes(n)
	if err != nil {
		return "", err
	}
	return readNulString(raw)
}

func deserializeSyscall(br *binReader) (*Syscall, error) {
	patternLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	filterLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}

	patternRaw, err := br.readBytes(patternLen)
	if err != nil {
		return nil, err
	}
	pattern, err := readNulString(patternRaw)
	if err != nil {
		return nil, err
	}

	r := &Syscall{Pattern: pattern, refcount: 1}
	if filterLen > 0 {
		filterRaw, err := br.readBytes(filterLen)
		if err != nil {
			return nil, err
		}
		filter, err := readNulString(filterRaw)
		if err != nil {
			return nil, err
		}
		r.Filter = filter
		r.HasFilter = true
	}
	return r, nil
}

func deserializeTracepoint(br *binReader) (*Tracepoint, error) {
	domain, err := br.readInt8()
	if err != nil {
		return nil, err
	}
	patternLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	filterLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	logLevelLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	exclusionCount, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	exclusionsTotalLen, err := br.readUint32()
	if err != nil {
		return nil, err
	}
	_ = exclusionsTotalLen // validated implicitly per-exclusion below

	patternRaw, err := br.readBytes(patternLen)
	if err != nil {
		return nil, err
	}
	pattern, err := readNulString(patternRaw)
	if err != nil {
		return nil, err
	}

	r := &Tracepoint{Domain: Domain(domain), Pattern: pattern, refcount: 1}

	if filterLen > 0 {
		filterRaw, err := br.readBytes(filterLen)
		if err != nil {
			return nil, err
		}
		filter, err := readNulString(filterRaw)
		if err != nil {
			return nil, err
		}
		r.Filter = filter
		r.HasFilter = true
	}

	if logLevelLen > 0 {
		if logLevelLen != 5 {
			return nil, errkind.New("eventrule.Deserialize", errkind.EventRuleSerializeBadLength)
		}
		raw, err := br.readBytes(logLevelLen)
		if err != nil {
			return nil, err
		}
		kind := LogLevelRuleKind(raw[0])
		level := LogLevel(int32(binary.LittleEndian.Uint32(raw[1:5])))
		r.LogLevelRule = &LogLevelRule{Kind: kind, Level: level}
	}

	for i := uint32(0); i < exclusionCount; i++ {
		n, err := br.readUint32()
		if err != nil {
			return nil, err
		}
		raw, err := br.readBytes(n)
		if err != nil {
			return nil, err
		}
		name, err := readNulString(raw)
		if err != nil {
			return nil, err
		}
		r.Exclusions = append(r.Exclusions, name)
	}

	return r, nil
}
