package resp2

import (
	"strconv"
)

// EncodeCommand serializes args as the RESP array-of-bulk-strings a Redis
// command always is: "*N\r\n" followed by "$L\r\n<bytes>\r\n" per argument.
// It is the only wire shape this client ever writes.
func EncodeCommand(args [][]byte) []byte {
	out := make([]byte, 0, commandSize(args))
	out = append(out, '*')
	out = strconv.AppendInt(out, int64(len(args)), 10)
	out = append(out, '\r', '\n')
	for _, a := range args {
		out = append(out, '$')
		out = strconv.AppendInt(out, int64(len(a)), 10)
		out = append(out, '\r', '\n')
		out = append(out, a...)
		out = append(out, '\r', '\n')
	}
	return out
}

func commandSize(args [][]byte) int {
	n := 1 + len(strconv.Itoa(len(args))) + 2
	for _, a := range args {
		n += 1 + len(strconv.Itoa(len(a))) + 2 + len(a) + 2
	}
	return n
}

// EncodeCommandStrings is a convenience wrapper over EncodeCommand for
// callers holding string arguments rather than []byte.
func EncodeCommandStrings(args ...string) []byte {
	bb := make([][]byte, len(args))
	for i, a := range args {
		bb[i] = []byte(a)
	}
	return EncodeCommand(bb)
}
