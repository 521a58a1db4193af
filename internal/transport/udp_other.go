//go:build !unix

package transport

import (
	"errors"
	"fmt"
)

type udpFactory struct{}

// NewUDP returns a Factory for kernel UDP sockets. Only unix platforms are
// supported; elsewhere Create always fails.
func NewUDP() Factory {
	return udpFactory{}
}

func (udpFactory) Create(Family) (Socket, error) {
	return nil, fmt.Errorf("transport: kernel UDP sockets: %w", errors.ErrUnsupported)
}
