package avd

import (
	"errors"
	"testing"
)

func TestNextPortEmpty(t *testing.T) {
	if got := NextPort(nil); got != MinPort {
		t.Fatalf("expected %d, got %d", MinPort, got)
	}
}

func TestNextPortAboveHighest(t *testing.T) {
	cases := [][]int{
		{5554},
		{5554, 5556},
		{5560, 5554},
		{5600, 5556, 5580},
	}
	for _, live := range cases {
		want := 0
		for _, p := range live {
			want = max(want, p)
		}
		want += 2
		if got := NextPort(live); got != want {
			t.Fatalf("NextPort(%v) = %d, want %d", live, got, want)
		}
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	for port := MinPort; port <= MaxPort; port += PortStep {
		ep := NewEndpoint(port)
		got, ok := ParseSerial(ep.Serial)
		if !ok || got != port {
			t.Fatalf("round trip of %d via %q gave %d (%v)", port, ep.Serial, got, ok)
		}
	}
}

func TestParseSerialRejectsNonEmulators(t *testing.T) {
	for _, serial := range []string{"", "emulator-", "emulator-abc", "R58M123ABC", "192.168.1.5:5555", "emulator5554", "emulator--2", "emulator-+5554", "emulator-05554", "emulator-5554 "} {
		if port, ok := ParseSerial(serial); ok {
			t.Fatalf("ParseSerial(%q) accepted port %d", serial, port)
		}
	}
}

func TestValidPort(t *testing.T) {
	if err := ValidPort(MinPort); err != nil {
		t.Fatalf("min port rejected: %v", err)
	}
	if err := ValidPort(5555); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("odd port should be invalid input, got %v", err)
	}
	if err := ValidPort(MaxPort + PortStep); !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("port past range should be exhausted, got %v", err)
	}
}
