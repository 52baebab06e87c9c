package resp2

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleTypes(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Value
	}{
		{"simple string", "+OK\r\n", SimpleStringValue("OK")},
		{"error", "-ERR bad thing\r\n", ErrorValue("ERR bad thing")},
		{"positive integer", ":1000\r\n", IntegerValue(1000)},
		{"negative integer", ":-7\r\n", IntegerValue(-7)},
		{"bulk string", "$5\r\nhello\r\n", BulkStringValue([]byte("hello"))},
		{"empty bulk string", "$0\r\n\r\n", BulkStringValue([]byte{})},
		{"null bulk string", "$-1\r\n", NullBulkString()},
		{"empty array", "*0\r\n", ArrayValue(nil)},
		{"null array", "*-1\r\n", NullArray()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, n, err := Decode([]byte(tc.wire))
			require.NoError(t, err)
			require.Equal(t, len(tc.wire), n)
			assert.Equal(t, tc.want, v, spew.Sdump(v))
		})
	}
}

func TestDecodeBulkStringPreservesCRLFInBody(t *testing.T) {
	wire := "$6\r\nhe\r\nlo\r\n"
	v, n, err := Decode([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	assert.Equal(t, []byte("he\r\nlo"), v.Bytes)
}

func TestDecodeArrayOfMixedTypes(t *testing.T) {
	wire := "*3\r\n$3\r\nfoo\r\n:42\r\n$-1\r\n"
	v, n, err := Decode([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, Array, v.Type)
	require.Len(t, v.Elems, 3)
	assert.Equal(t, BulkStringValue([]byte("foo")), v.Elems[0])
	assert.Equal(t, IntegerValue(42), v.Elems[1])
	assert.Equal(t, NullBulkString(), v.Elems[2])
}

func TestDecodeNestedArray(t *testing.T) {
	wire := "*2\r\n*2\r\n:1\r\n:2\r\n$3\r\nbar\r\n"
	v, n, err := Decode([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Len(t, v.Elems, 2)
	inner := v.Elems[0]
	require.Equal(t, Array, inner.Type)
	assert.Equal(t, []Value{IntegerValue(1), IntegerValue(2)}, inner.Elems)
}

func TestDecodeNeedsMoreData(t *testing.T) {
	cases := []string{
		"",
		"+OK",
		"+OK\r",
		"$5\r\nhel",
		"$5\r\nhello",
		"*2\r\n$3\r\nfoo\r\n",
	}
	for _, wire := range cases {
		v, n, err := Decode([]byte(wire))
		require.NoError(t, err, wire)
		assert.Equal(t, 0, n, wire)
		assert.Equal(t, Value{}, v, wire)
	}
}

func TestDecodeProtocolErrors(t *testing.T) {
	cases := []string{
		"$abc\r\n",
		"$-2\r\n",
		"*-2\r\n",
		"$3\r\nabcXX", // missing/garbled trailing CRLF after full body
		":abc\r\n",
		"@nope\r\n",
	}
	for _, wire := range cases {
		_, _, err := Decode([]byte(wire))
		assert.Error(t, err, wire)
	}
}

// Fragmenting a frame arbitrarily and feeding it byte-by-byte through an
// accumulating buffer must yield the same value a whole-buffer parse does.
func TestDecodeToleratesArbitraryFragmentation(t *testing.T) {
	frames := []string{
		"+PONG\r\n",
		"$13\r\nHello, World!\r\n",
		"*3\r\n$7\r\nmessage\r\n$2\r\nch\r\n$5\r\nhello\r\n",
	}
	for _, frame := range frames {
		whole, _, err := Decode([]byte(frame))
		require.NoError(t, err)

		var buf []byte
		var got Value
		for i := 0; i < len(frame); i++ {
			buf = append(buf, frame[i])
			v, n, err := Decode(buf)
			require.NoError(t, err)
			if n == 0 {
				continue
			}
			got = v
			require.Equal(t, len(buf), n)
			break
		}
		assert.Equal(t, whole, got, frame)
	}
}

func TestDecodeMultipleFramesBackToBack(t *testing.T) {
	buf := []byte("+OK\r\n:5\r\n$3\r\nfoo\r\n")
	var got []Value
	for len(buf) > 0 {
		v, n, err := Decode(buf)
		require.NoError(t, err)
		require.NotZero(t, n)
		got = append(got, v)
		buf = buf[n:]
	}
	assert.Equal(t, []Value{SimpleStringValue("OK"), IntegerValue(5), BulkStringValue([]byte("foo"))}, got)
}
