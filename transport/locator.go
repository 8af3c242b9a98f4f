package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Locator is a parsed service locator of the form
// "protocol:key=value,key=value", e.g. "tcp:host=127.0.0.1,port=11111".
type Locator struct {
	Protocol string
	Host     string
	Port     uint16
}

// acceptedProtocols are the locator protocol tokens this transport
// recognizes.
var acceptedProtocols = map[string]bool{
	"tcp":       true,
	"kernelTcp": true,
}

// ParseLocator parses an opaque locator string. host/port are required for
// both server and client locators (a missing value on a server locator is
// an error per the spec; on a client locator they're required for
// GetSession).
func ParseLocator(s string) (Locator, error) {
	protocol, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Locator{}, fmt.Errorf("transport: locator %q missing protocol", s)
	}
	if !acceptedProtocols[protocol] {
		return Locator{}, fmt.Errorf("transport: unrecognized protocol %q", protocol)
	}

	loc := Locator{Protocol: protocol}

	for _, pair := range strings.Split(rest, ",") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Locator{}, fmt.Errorf("transport: malformed option %q in locator %q", pair, s)
		}
		switch k {
		case "host":
			loc.Host = v
		case "port":
			p, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return Locator{}, fmt.Errorf("transport: invalid port %q: %w", v, err)
			}
			loc.Port = uint16(p)
		}
	}

	if loc.Host == "" || loc.Port == 0 {
		return Locator{}, fmt.Errorf("transport: locator %q missing host/port", s)
	}

	return loc, nil
}

// Address returns the host:port pair gnet/net expect.
func (l Locator) Address() string {
	return l.Host + ":" + strconv.Itoa(int(l.Port))
}

// String reconstructs the canonical locator string.
func (l Locator) String() string {
	return fmt.Sprintf("%s:host=%s,port=%d", l.Protocol, l.Host, l.Port)
}
