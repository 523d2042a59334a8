// Package network answers whether the backend is worth trying.
package network

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/julianstephens/habitkeep/internal/constants"
)

// Provider reports connectivity. Both calls must be cheap enough to poll.
type Provider interface {
	IsConnected(ctx context.Context) bool
	IsInternetReachable(ctx context.Context) bool
}

// Online reports whether p is connected and the internet is reachable.
func Online(ctx context.Context, p Provider) bool {
	return p.IsConnected(ctx) && p.IsInternetReachable(ctx)
}

// TCPProvider checks for an active non-loopback interface and probes
// reachability with a TCP dial.
type TCPProvider struct {
	ProbeAddress string
	Timeout      time.Duration

	interfaces func() ([]net.Interface, error)
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewTCPProvider(probeAddress string, timeout time.Duration) *TCPProvider {
	if probeAddress == "" {
		probeAddress = constants.DefaultProbeAddress
	}
	if timeout <= 0 {
		timeout = constants.DefaultProbeTimeout
	}
	d := &net.Dialer{}
	return &TCPProvider{
		ProbeAddress: probeAddress,
		Timeout:      timeout,
		interfaces:   net.Interfaces,
		dial:         d.DialContext,
	}
}

func (p *TCPProvider) IsConnected(ctx context.Context) bool {
	ifaces, err := p.interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

func (p *TCPProvider) IsInternetReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.ProbeAddress)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Static is a Provider with a settable answer, used for --offline and in
// tests.
type Static struct {
	online atomic.Bool
}

func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

func (s *Static) Set(online bool) { s.online.Store(online) }

func (s *Static) IsConnected(ctx context.Context) bool         { return s.online.Load() }
func (s *Static) IsInternetReachable(ctx context.Context) bool { return s.online.Load() }
