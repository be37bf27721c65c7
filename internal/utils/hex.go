package utils

const hexd = "0123456789abcdef"

// Hex4 formats a uint16 as 4 lowercase hex digits, e.g. a service UUID "181a".
func Hex4(v uint16) string {
	return string([]byte{
		hexd[(v>>12)&0xF],
		hexd[(v>>8)&0xF],
		hexd[(v>>4)&0xF],
		hexd[v&0xF],
	})
}

// BytesToHex converts raw advertisement bytes to a compact hex string.
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}
