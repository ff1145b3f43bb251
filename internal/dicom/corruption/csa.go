package corruption

import (
	"bytes"
	"encoding/binary"
)

// csaEntry is one named element of a Siemens CSA header.
type csaEntry struct {
	name   string
	vr     string
	values []string
}

// csaHeader encodes entries in the "SV10" layout: a fixed preamble, then per
// entry a 64-byte name, VM, 4-byte VR, syngo type, item count and items,
// each item length repeated four times and its data padded to 4 bytes.
func csaHeader(entries []csaEntry) []byte {
	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("SV10")
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})
	le(uint32(len(entries)))
	le(uint32(0x4D))

	for _, e := range entries {
		name := make([]byte, 64)
		copy(name, e.name)
		buf.Write(name)
		le(int32(len(e.values)))

		vr := make([]byte, 4)
		copy(vr, e.vr)
		buf.Write(vr)
		le(syngoType(e.vr))
		le(int32(len(e.values)))
		le(uint32(0x4D))

		for _, v := range e.values {
			for range 4 {
				le(uint32(len(v)))
			}
			buf.WriteString(v)
			buf.Write(make([]byte, (4-len(v)%4)%4))
		}
	}
	return buf.Bytes()
}

func syngoType(vr string) int32 {
	switch vr {
	case "IS":
		return 6
	case "LO":
		return 19
	default:
		return 3
	}
}
