package historical

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Wire layout, little-endian throughout:
//
//	u16 version (1)
//	u16 numFields
//	per field:
//	  u8  nameLen
//	  utf8 name
//	  f64 initialValue
//	  u32 sampleCount
//	  sampleCount × { f64 time, f64 value }
const packVersion = 1

// ErrUnknownVersion is returned when unpacking a blob written by a newer
// encoder.
var ErrUnknownVersion = errors.New("unknown history version")

// Pack encodes a history into its binary wire form. Fields are emitted in
// sorted name order so equal histories produce identical blobs.
func Pack(h History) ([]byte, error) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	writeU16 := func(v uint16) {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeF64 := func(v float64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])
	}

	if len(names) > math.MaxUint16 {
		return nil, fmt.Errorf("too many fields: %d", len(names))
	}
	writeU16(packVersion)
	writeU16(uint16(len(names)))

	for _, name := range names {
		if len(name) > math.MaxUint8 {
			return nil, fmt.Errorf("field name too long: %q", name)
		}
		fh := h[name]
		buf.WriteByte(uint8(len(name)))
		buf.WriteString(name)
		writeF64(fh.InitialValue)
		if uint64(len(fh.Samples)) > math.MaxUint32 {
			return nil, fmt.Errorf("too many samples for field %q", name)
		}
		writeU32(uint32(len(fh.Samples)))
		for _, s := range fh.Samples {
			writeF64(s.Time)
			writeF64(s.Value)
		}
	}
	return buf.Bytes(), nil
}

// Unpack decodes a packed history blob. Blobs from unknown encoder versions
// are rejected.
func Unpack(data []byte) (History, error) {
	r := &reader{data: data}

	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != packVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	numFields, err := r.u16()
	if err != nil {
		return nil, err
	}

	h := make(History, numFields)
	for i := 0; i < int(numFields); i++ {
		nameLen, err := r.u8()
		if err != nil {
			return nil, err
		}
		name, err := r.str(int(nameLen))
		if err != nil {
			return nil, err
		}
		initial, err := r.f64()
		if err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		fh := FieldHistory{InitialValue: initial}
		for j := 0; j < int(count); j++ {
			tm, err := r.f64()
			if err != nil {
				return nil, err
			}
			val, err := r.f64()
			if err != nil {
				return nil, err
			}
			fh.Samples = append(fh.Samples, Sample{Time: tm, Value: val})
		}
		h[name] = fh
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("trailing bytes in history blob: %d", len(r.data)-r.pos)
	}
	return h, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("truncated history blob at offset %d", r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *reader) str(n int) (string, error) {
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
