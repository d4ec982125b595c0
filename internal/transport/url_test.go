package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     Endpoint
		writable bool
	}{
		{"multicast", "udp://239.255.50.10:5010", Endpoint{Scheme: "udp", Address: "239.255.50.10:5010"}, false},
		{"udp any", "udp://:5010", Endpoint{Scheme: "udp", Address: ":5010"}, false},
		{"tcp", "tcp://10.0.0.2:7778", Endpoint{Scheme: "tcp", Address: "10.0.0.2:7778"}, true},
		{"unix", "unix:///run/simpit.sock", Endpoint{Scheme: "unix", Address: "/run/simpit.sock"}, true},
		{"serial default baud", "serial:///dev/ttyUSB0", Endpoint{Scheme: "serial", Address: "/dev/ttyUSB0", Baud: 250000}, true},
		{"serial baud", "serial:///dev/ttyACM1?baud=115200", Endpoint{Scheme: "serial", Address: "/dev/ttyACM1", Baud: 115200}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.writable, got.Writable())
		})
	}
}

func TestParseURL_Errors(t *testing.T) {
	for _, raw := range []string{
		"http://example.com",
		"tcp://",
		"unix://",
		"serial://",
		"serial:///dev/ttyUSB0?baud=fast",
		"serial:///dev/ttyUSB0?baud=-1",
		"::not a url",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseURL(raw)
			assert.True(t, errors.Is(err, ErrInvalidURL), "got %v", err)
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "udp://239.255.50.10:5010", Endpoint{Scheme: "udp", Address: "239.255.50.10:5010"}.String())
	assert.Equal(t, "unix:///run/x", Endpoint{Scheme: "unix", Address: "/run/x"}.String())
	assert.Equal(t, "serial:///dev/ttyUSB0?baud=9600", Endpoint{Scheme: "serial", Address: "/dev/ttyUSB0", Baud: 9600}.String())
}
