// Package gateway implements the mesh's lightweight internet-
// reachability probe and local network-interface classification, used
// to advertise (and diagnose) gateway capability.
package gateway

import (
	"net"
	"strings"
	"time"
)

// probeAddr is a well-known public address used only for its route;
// no data is ever sent to it.
const probeAddr = "8.8.8.8:53"

// ProbeTimeout bounds how long the reachability check will block.
const ProbeTimeout = 2 * time.Second

// Probe attempts a connection-less UDP "connect" to a well-known public
// address. Success means only that the OS believes a route exists, not
// that the address actually answered.
func Probe() bool {
	conn, err := net.DialTimeout("udp", probeAddr, ProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// InterfaceClass is the coarse category a network interface falls
// into, derived from its name.
type InterfaceClass int

const (
	ClassOther InterfaceClass = iota
	ClassLoopback
	ClassWifi
	ClassEthernet
	ClassCellular
)

func (c InterfaceClass) String() string {
	switch c {
	case ClassLoopback:
		return "loopback"
	case ClassWifi:
		return "wifi"
	case ClassEthernet:
		return "ethernet"
	case ClassCellular:
		return "cellular"
	default:
		return "other"
	}
}

// ClassifyInterfaceName maps a link name to its InterfaceClass using
// lowercase substring/prefix rules.
func ClassifyInterfaceName(name string) InterfaceClass {
	n := strings.ToLower(name)

	switch {
	case n == "lo" || strings.Contains(n, "loopback"):
		return ClassLoopback
	case strings.Contains(n, "wifi"), strings.Contains(n, "wlan"), strings.Contains(n, "wireless"),
		strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wlp"):
		return ClassWifi
	case strings.Contains(n, "ethernet"), strings.Contains(n, "eth"),
		strings.HasPrefix(n, "en"), strings.HasPrefix(n, "enp"):
		return ClassEthernet
	case strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "ccmni"),
		strings.Contains(n, "mobile"), strings.Contains(n, "cellular"):
		return ClassCellular
	default:
		return ClassOther
	}
}

// Interface pairs a discovered link name with its classification.
type Interface struct {
	Name  string
	Class InterfaceClass
}

// EnumerateInterfaces lists and classifies every local network
// interface, for diagnostics.
func EnumerateInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, Interface{
			Name:  iface.Name,
			Class: ClassifyInterfaceName(iface.Name),
		})
	}
	return out, nil
}
