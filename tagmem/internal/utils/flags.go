package utils

import (
	"fmt"
	"math/bits"
	"strings"
)

type Flags interface {
	~int32 | ~uint32
}

// FlagStringMapping renders bit flags as a pipe-separated list of registered names
type FlagStringMapping[T Flags] struct {
	names map[T]string
}

func NewFlagStringMapping[T Flags]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, name string) {
	m.names[flag] = name
}

func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var parts []string
	remaining := uint32(value)
	for remaining != 0 {
		bit := uint32(1) << bits.TrailingZeros32(remaining)
		remaining &^= bit

		name, ok := m.names[T(bit)]
		if !ok {
			name = fmt.Sprintf("UnknownFlag(0x%x)", bit)
		}
		parts = append(parts, name)
	}

	return strings.Join(parts, "|")
}
