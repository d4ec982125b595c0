package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/term"
)

// link is one open connection of any scheme.
type link interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error

	// beforeRead and beforeWrite arm per-operation timeouts where the
	// underlying link supports them.
	beforeRead(timeout time.Duration) error
	beforeWrite(timeout time.Duration) error

	localAddr() net.Addr
}

// netLink wraps sockets.
type netLink struct {
	net.Conn
}

func (l netLink) beforeRead(timeout time.Duration) error {
	return l.SetReadDeadline(time.Now().Add(timeout))
}

func (l netLink) beforeWrite(timeout time.Duration) error {
	return l.SetWriteDeadline(time.Now().Add(timeout))
}

func (l netLink) localAddr() net.Addr {
	return l.LocalAddr()
}

// serialLink wraps a raw-mode tty. Its read timeout is fixed when opened.
type serialLink struct {
	*term.Term
}

// errQuietLine is what a serial read returns when the VTIME timer expires
// with nothing received. It satisfies net.Error with Timeout true.
var errQuietLine net.Error = quietLineError{}

type quietLineError struct{}

func (quietLineError) Error() string   { return "serial: no data before read timeout" }
func (quietLineError) Timeout() bool   { return true }
func (quietLineError) Temporary() bool { return true }

// Read reports an expired read timeout as errQuietLine. pkg/term signals it
// as a zero count with io.EOF, which would otherwise look like a hangup.
func (l serialLink) Read(p []byte) (int, error) {
	n, err := l.Term.Read(p)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, errQuietLine
	}
	return n, err
}

func (serialLink) beforeRead(time.Duration) error  { return nil }
func (serialLink) beforeWrite(time.Duration) error { return nil }
func (serialLink) localAddr() net.Addr             { return nil }

// openLink opens ep, honouring ctx for dialled schemes.
func openLink(ctx context.Context, ep Endpoint, iface string, readTimeout time.Duration) (link, error) {
	switch ep.Scheme {
	case SchemeUDP:
		return listenUDP(ep.Address, iface)

	case SchemeTCP, SchemeUnix:
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, ep.Scheme, ep.Address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep, err)
		}
		return netLink{Conn: conn}, nil

	case SchemeSerial:
		t, err := term.Open(ep.Address, term.Speed(ep.Baud), term.RawMode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ep, err)
		}
		if err := t.SetReadTimeout(readTimeout); err != nil {
			t.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", ep.Address, err)
		}
		return serialLink{Term: t}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, ep.Scheme)
	}
}

// listenUDP binds addr, joining the group when addr is a multicast address.
func listenUDP(addr, iface string) (link, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		var ifi *net.Interface
		if iface != "" {
			ifi, err = net.InterfaceByName(iface)
			if err != nil {
				return nil, fmt.Errorf("interface %s: %w", iface, err)
			}
		}
		conn, err := net.ListenMulticastUDP("udp4", ifi, udpAddr)
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", addr, err)
		}
		return netLink{Conn: conn}, nil
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return netLink{Conn: conn}, nil
}
