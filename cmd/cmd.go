// Package cmd is a thin command catalogue on top of the connection-level
// Send/SendBytes calls: building the argument list and parsing the reply
// shape back into a Go value is "soft" scaffolding, not the hard
// engineering this module exists to demonstrate, so it leans entirely on
// gomodule/redigo's redis.Args flattening rather than reinventing it.
package cmd

import (
	"fmt"
	"strconv"

	"github.com/gomodule/redigo/redis"

	"github.com/lattice-db/radix/resp/resp2"
)

// Command is a RESP command ready to encode: a name and its already
// byte-flattened arguments.
type Command struct {
	Name string
	Args [][]byte
}

// Build flattens args via redis.Args.AddFlat (so slices, maps and structs
// passed as a single argument expand the way redigo's own callers expect)
// and renders every resulting scalar to its wire bytes.
func Build(name string, args ...interface{}) (Command, error) {
	var flat redis.Args
	for _, a := range args {
		flat = flat.AddFlat(a)
	}
	out := make([][]byte, 0, len(flat))
	for _, v := range flat {
		b, err := argBytes(v)
		if err != nil {
			return Command{}, fmt.Errorf("cmd: %s: %w", name, err)
		}
		out = append(out, b)
	}
	return Command{Name: name, Args: out}, nil
}

func argBytes(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case int:
		return []byte(strconv.Itoa(x)), nil
	case int64:
		return []byte(strconv.FormatInt(x, 10)), nil
	case uint64:
		return []byte(strconv.FormatUint(x, 10)), nil
	case float64:
		return []byte(strconv.FormatFloat(x, 'f', -1, 64)), nil
	case bool:
		if x {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case fmt.Stringer:
		return []byte(x.String()), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", v)
	}
}

// Encode renders c as a wire-ready RESP command.
func (c Command) Encode() []byte {
	full := make([][]byte, 0, len(c.Args)+1)
	full = append(full, []byte(c.Name))
	full = append(full, c.Args...)
	return resp2.EncodeCommand(full)
}

// Get builds a GET command.
func Get(key string) Command {
	c, _ := Build("GET", key)
	return c
}

// Set builds a SET command.
func Set(key string, value interface{}) Command {
	c, _ := Build("SET", key, value)
	return c
}

// Del builds a DEL command over one or more keys.
func Del(keys ...string) Command {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	c, _ := Build("DEL", args...)
	return c
}

// Exists builds an EXISTS command over one or more keys.
func Exists(keys ...string) Command {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	c, _ := Build("EXISTS", args...)
	return c
}

// Expire builds an EXPIRE command.
func Expire(key string, seconds int64) Command {
	c, _ := Build("EXPIRE", key, seconds)
	return c
}

// LPush builds an LPUSH command over one or more values.
func LPush(key string, values ...interface{}) Command {
	args := append([]interface{}{key}, values...)
	c, _ := Build("LPUSH", args...)
	return c
}

// RPush builds an RPUSH command over one or more values.
func RPush(key string, values ...interface{}) Command {
	args := append([]interface{}{key}, values...)
	c, _ := Build("RPUSH", args...)
	return c
}

// LRange builds an LRANGE command.
func LRange(key string, start, stop int64) Command {
	c, _ := Build("LRANGE", key, start, stop)
	return c
}

// HSet builds an HSET command.
func HSet(key, field string, value interface{}) Command {
	c, _ := Build("HSET", key, field, value)
	return c
}

// HGet builds an HGET command.
func HGet(key, field string) Command {
	c, _ := Build("HGET", key, field)
	return c
}

// HGetAll builds an HGETALL command.
func HGetAll(key string) Command {
	c, _ := Build("HGETALL", key)
	return c
}

// Publish builds a PUBLISH command.
func Publish(channel string, payload interface{}) Command {
	c, _ := Build("PUBLISH", channel, payload)
	return c
}

// Auth builds an AUTH command.
func Auth(password string) Command {
	c, _ := Build("AUTH", password)
	return c
}

// Select builds a SELECT command.
func Select(index int) Command {
	c, _ := Build("SELECT", index)
	return c
}

// Ping builds a bare PING command.
func Ping() Command {
	c, _ := Build("PING")
	return c
}

// IntoString renders a SimpleString or non-null BulkString reply as a Go
// string, or an Error reply as a Go error.
func IntoString(v resp2.Value) (string, error) {
	switch v.Type {
	case resp2.SimpleString:
		return v.Str, nil
	case resp2.BulkString:
		if v.Null {
			return "", fmt.Errorf("cmd: nil reply")
		}
		return string(v.Bytes), nil
	case resp2.Error:
		return "", v.AsError()
	default:
		return "", fmt.Errorf("cmd: unexpected reply type %s", v.Type)
	}
}

// IntoInt renders an Integer reply as int64.
func IntoInt(v resp2.Value) (int64, error) {
	if v.Type == resp2.Error {
		return 0, v.AsError()
	}
	if v.Type != resp2.Integer {
		return 0, fmt.Errorf("cmd: unexpected reply type %s", v.Type)
	}
	return v.Int, nil
}

// IntoStrings renders a (possibly null) Array of bulk strings as a Go
// slice; a null array renders as a nil slice with no error.
func IntoStrings(v resp2.Value) ([]string, error) {
	if v.Type == resp2.Error {
		return nil, v.AsError()
	}
	if v.Type != resp2.Array {
		return nil, fmt.Errorf("cmd: unexpected reply type %s", v.Type)
	}
	if v.Null {
		return nil, nil
	}
	out := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		s, err := IntoString(e)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// IntoStringMap renders the flat key/value Array HGETALL returns as a Go
// map.
func IntoStringMap(v resp2.Value) (map[string]string, error) {
	ss, err := IntoStrings(v)
	if err != nil {
		return nil, err
	}
	if len(ss)%2 != 0 {
		return nil, fmt.Errorf("cmd: odd-length key/value array")
	}
	out := make(map[string]string, len(ss)/2)
	for i := 0; i < len(ss); i += 2 {
		out[ss[i]] = ss[i+1]
	}
	return out, nil
}
