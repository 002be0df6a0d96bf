package failsafe

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Link reports whether the physical network link is up.
type Link interface {
	Present() bool
}

// LinkFunc adapts a function to Link.
type LinkFunc func() bool

func (f LinkFunc) Present() bool { return f() }

// Carrier reads the kernel's carrier flag for a network interface.
type Carrier struct {
	Interface string
	// SysRoot defaults to /sys/class/net.
	SysRoot string
}

func (c Carrier) Present() bool {
	root := c.SysRoot
	if root == "" {
		root = "/sys/class/net"
	}
	b, err := os.ReadFile(filepath.Join(root, c.Interface, "carrier"))
	if err != nil {
		// Reading carrier fails with EINVAL while the interface is down.
		return false
	}
	return strings.TrimSpace(string(b)) == "1"
}

// Prober checks that the monitored station answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// TCPProber opens and immediately closes a TCP connection to Addr. The
// deadline comes from ctx.
type TCPProber struct {
	Addr string
}

func (p TCPProber) Probe(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
