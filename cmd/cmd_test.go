package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/radix/resp/resp2"
)

func TestBuildFlattensScalarArgs(t *testing.T) {
	c, err := Build("SET", "key", "value")
	require.NoError(t, err)
	assert.Equal(t, "SET", c.Name)
	require.Len(t, c.Args, 2)
	assert.Equal(t, []byte("key"), c.Args[0])
	assert.Equal(t, []byte("value"), c.Args[1])
}

func TestBuildFlattensSliceArgument(t *testing.T) {
	c, err := Build("DEL", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, c.Args, 3)
	assert.Equal(t, []byte("a"), c.Args[0])
	assert.Equal(t, []byte("b"), c.Args[1])
	assert.Equal(t, []byte("c"), c.Args[2])
}

func TestBuildRejectsUnsupportedType(t *testing.T) {
	_, err := Build("SET", "key", make(chan int))
	require.Error(t, err)
}

func TestEncodeProducesWireFormat(t *testing.T) {
	c := Get("foo")
	wire := c.Encode()
	assert.Equal(t, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n", string(wire))
}

func TestLPushAppendsKeyBeforeValues(t *testing.T) {
	c := LPush("mylist", "a", "b")
	assert.Equal(t, "LPUSH", c.Name)
	require.Len(t, c.Args, 3)
	assert.Equal(t, []byte("mylist"), c.Args[0])
	assert.Equal(t, []byte("a"), c.Args[1])
	assert.Equal(t, []byte("b"), c.Args[2])
}

func TestIntoStringHandlesBulkAndSimple(t *testing.T) {
	s, err := IntoString(resp2.BulkStringValue([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = IntoString(resp2.SimpleStringValue("OK"))
	require.NoError(t, err)
	assert.Equal(t, "OK", s)
}

func TestIntoStringPropagatesErrorReply(t *testing.T) {
	_, err := IntoString(resp2.ErrorValue("WRONGTYPE bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")
}

func TestIntoStringRejectsNilBulk(t *testing.T) {
	_, err := IntoString(resp2.NullBulkString())
	require.Error(t, err)
}

func TestIntoIntReadsIntegerReply(t *testing.T) {
	n, err := IntoInt(resp2.IntegerValue(42))
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
}

func TestIntoStringsHandlesNullArray(t *testing.T) {
	ss, err := IntoStrings(resp2.NullArray())
	require.NoError(t, err)
	assert.Nil(t, ss)
}

func TestIntoStringsCollectsBulkElements(t *testing.T) {
	v := resp2.ArrayValue([]resp2.Value{
		resp2.BulkStringValue([]byte("a")),
		resp2.BulkStringValue([]byte("b")),
	})
	ss, err := IntoStrings(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ss)
}

func TestIntoStringMapPairsUpKeysAndValues(t *testing.T) {
	v := resp2.ArrayValue([]resp2.Value{
		resp2.BulkStringValue([]byte("field1")),
		resp2.BulkStringValue([]byte("value1")),
		resp2.BulkStringValue([]byte("field2")),
		resp2.BulkStringValue([]byte("value2")),
	})
	m, err := IntoStringMap(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"field1": "value1", "field2": "value2"}, m)
}

func TestIntoStringMapRejectsOddLengthArray(t *testing.T) {
	v := resp2.ArrayValue([]resp2.Value{resp2.BulkStringValue([]byte("orphan"))})
	_, err := IntoStringMap(v)
	require.Error(t, err)
}
