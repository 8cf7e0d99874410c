// Package netlink watches the operating system's network interfaces.
//
// On the board the Wi-Fi association itself is done by the OS
// (wpa_supplicant or NetworkManager); the device only needs to know
// when an interface is usable and to wait for it after boot or a
// dropout.
package netlink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ifaceInfo is the subset of interface state the link cares about.
type ifaceInfo struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

// Link reports whether a network interface is up with an address.
type Link struct {
	name   string
	poll   time.Duration
	logger *slog.Logger

	// list enumerates interfaces. Replaced in tests.
	list func() ([]ifaceInfo, error)
}

// New creates a Link watching the named interface. An empty name
// accepts any non-loopback interface.
func New(name string, poll time.Duration, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Link{name: name, poll: poll, logger: logger, list: systemInterfaces}
}

// Up reports whether the watched interface is up, not loopback, and has
// at least one global unicast address.
func (l *Link) Up() bool {
	ifaces, err := l.list()
	if err != nil {
		l.logger.Debug("list network interfaces failed", "error", err)
		return false
	}
	for _, ifc := range ifaces {
		if l.name != "" && ifc.name != l.name {
			continue
		}
		if ifc.flags&net.FlagUp == 0 || ifc.flags&net.FlagLoopback != 0 {
			continue
		}
		for _, a := range ifc.addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}

// Associate polls until the link is up or ctx expires.
func (l *Link) Associate(ctx context.Context) error {
	if l.Up() {
		return nil
	}

	iface := l.name
	if iface == "" {
		iface = "any"
	}
	l.logger.Info("waiting for network", "interface", iface)

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interface %s not up: %w", iface, ctx.Err())
		case <-ticker.C:
			if l.Up() {
				l.logger.Info("network up", "interface", iface)
				return nil
			}
		}
	}
}

func systemInterfaces() ([]ifaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceInfo, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ifaceInfo{name: ifc.Name, flags: ifc.Flags, addrs: addrs})
	}
	return out, nil
}
