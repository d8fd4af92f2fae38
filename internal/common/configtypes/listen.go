package configtypes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ListenAddr is a parsed listen setting. An empty Host binds every interface.
type ListenAddr struct {
	Host string
	Port int
}

// ParseListenAddress accepts "5000", ":5000" and "host:5000" and checks that
// the port is usable.
func ParseListenAddress(listen string) (ListenAddr, error) {
	addr := strings.TrimSpace(listen)
	if addr == "" {
		return ListenAddr{}, fmt.Errorf("listen address is empty")
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ListenAddr{}, fmt.Errorf("listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ListenAddr{}, fmt.Errorf("listen address %q: port %q is not a number", listen, portStr)
	}
	if port < 1 || port > 65535 {
		return ListenAddr{}, fmt.Errorf("listen address %q: port %d out of range 1-65535", listen, port)
	}
	return ListenAddr{Host: host, Port: port}, nil
}

func ValidateListenAddress(listen string) error {
	_, err := ParseListenAddress(listen)
	return err
}

// LoopbackURL is the base URL the co-located browser uses to reach a server
// bound to listen. Wildcard binds are reached through 127.0.0.1.
func LoopbackURL(listen string) (string, error) {
	addr, err := ParseListenAddress(listen)
	if err != nil {
		return "", err
	}
	host := addr.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port)), nil
}
