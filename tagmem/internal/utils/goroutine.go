package utils

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// GoroutineID returns the runtime's id for the calling goroutine, parsed from the header line of its
// stack trace ("goroutine 123 [running]:"). It returns 0 if the header cannot be parsed.
func GoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		return 0
	}

	id, err := strconv.ParseInt(string(header[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
