package egress

import "bytes"

// magicEntry maps a file-format magic prefix to a human-readable label.
type magicEntry struct {
	prefix []byte
	label  string
}

// magicBytes is the binary-payload detection set, checked against the first
// bytes of the buffer.
var magicBytes = []magicEntry{
	{[]byte{0x89, 0x50, 0x4E, 0x47}, "png"},
	{[]byte{0x50, 0x4B, 0x03, 0x04}, "zip"},
	{[]byte{0x25, 0x50, 0x44, 0x46}, "pdf"},
	{[]byte{0x7F, 0x45, 0x4C, 0x46}, "elf"},
	{[]byte{0x47, 0x49, 0x46, 0x38}, "gif"},
	{[]byte{0x4D, 0x5A}, "mz"},
}

// detectMagic returns the format label if data starts with a known magic
// sequence, or "" if it looks like text.
func detectMagic(data []byte) string {
	for _, m := range magicBytes {
		if bytes.HasPrefix(data, m.prefix) {
			return m.label
		}
	}
	return ""
}
