// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Emulator console ports. Each instance takes an even console port and the
// following odd port for adb.
const (
	SerialPrefix = "emulator"
	MinPort      = 5554
	MaxPort      = 5682
	PortStep     = 2
)

// Endpoint is the adb transport of a launched emulator.
type Endpoint struct {
	Serial string `json:"serial"`
	Port   int    `json:"port"`
}

// NewEndpoint returns the endpoint of the emulator listening on console port.
func NewEndpoint(port int) Endpoint {
	return Endpoint{Serial: fmt.Sprintf("%s-%d", SerialPrefix, port), Port: port}
}

func (e Endpoint) String() string { return e.Serial }

// ParseSerial extracts the console port from an emulator serial. Anything that
// is not emulator-<port> reports false.
func ParseSerial(serial string) (int, bool) {
	rest, ok := strings.CutPrefix(serial, SerialPrefix+"-")
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil || port <= 0 || strconv.Itoa(port) != rest {
		return 0, false
	}
	return port, true
}

// NextPort picks the console port for a new emulator from the ports currently
// live: the minimum when nothing runs, otherwise two above the highest.
func NextPort(live []int) int {
	if len(live) == 0 {
		return MinPort
	}
	return slices.Max(live) + PortStep
}

// ValidPort reports whether port is a legal console port.
func ValidPort(port int) error {
	if port%2 != 0 {
		return fmt.Errorf("%w: port %d is odd; emulator requires even port numbers (uses port and port+1)", ErrInvalidInput, port)
	}
	if port < MinPort {
		return fmt.Errorf("%w: port %d below %d", ErrInvalidInput, port, MinPort)
	}
	if port > MaxPort {
		return fmt.Errorf("%w: port %d above %d", ErrPortExhausted, port, MaxPort)
	}
	return nil
}
