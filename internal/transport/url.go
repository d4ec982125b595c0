package transport

import (
	"fmt"
	"net/url"
	"strconv"
)

// Link schemes.
const (
	SchemeUDP    = "udp"
	SchemeTCP    = "tcp"
	SchemeUnix   = "unix"
	SchemeSerial = "serial"
)

// defaultBaud is the export stream's usual serial rate.
const defaultBaud = 250000

// Endpoint is a parsed link URL.
type Endpoint struct {
	Scheme  string
	Address string // host:port for udp/tcp, path for unix/serial
	Baud    int    // serial only
}

// String returns the endpoint in URL form.
func (e Endpoint) String() string {
	if e.Scheme == SchemeSerial {
		return fmt.Sprintf("serial://%s?baud=%d", e.Address, e.Baud)
	}
	if e.Scheme == SchemeUnix {
		return "unix://" + e.Address
	}
	return e.Scheme + "://" + e.Address
}

// Writable reports whether bytes can be sent back over the link.
// A UDP listener has no peer to write to.
func (e Endpoint) Writable() bool {
	return e.Scheme != SchemeUDP
}

// ParseURL parses a link URL:
//
//	udp://239.255.50.10:5010          multicast group (joined on connect)
//	udp://:5010                       plain listener
//	tcp://host:7778
//	unix:///run/simpit.sock
//	serial:///dev/ttyUSB0?baud=250000
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case SchemeUDP, SchemeTCP:
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("%w: %s needs host:port", ErrInvalidURL, u.Scheme)
		}
		return Endpoint{Scheme: u.Scheme, Address: u.Host}, nil

	case SchemeUnix:
		if u.Path == "" {
			return Endpoint{}, fmt.Errorf("%w: unix needs a socket path", ErrInvalidURL)
		}
		return Endpoint{Scheme: SchemeUnix, Address: u.Path}, nil

	case SchemeSerial:
		if u.Path == "" {
			return Endpoint{}, fmt.Errorf("%w: serial needs a device path", ErrInvalidURL)
		}
		baud := defaultBaud
		if v := u.Query().Get("baud"); v != "" {
			baud, err = strconv.Atoi(v)
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("%w: bad baud %q", ErrInvalidURL, v)
			}
		}
		return Endpoint{Scheme: SchemeSerial, Address: u.Path, Baud: baud}, nil

	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
}
