package reader

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrBlockedHost       = errors.New("blocked url host")
	ErrBlockedPort       = errors.New("blocked url port")
)

var (
	defaultPorts       = map[string]string{"http": "80", "https": "443"}
	localHostSuffixes  = []string{"localhost", "local", "internal", "home.arpa"}
	nonPublicAddresses = mustPrefixes(
		"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8", "169.254.0.0/16",
		"172.16.0.0/12", "192.168.0.0/16", "224.0.0.0/4", "240.0.0.0/4",
		"::/128", "::1/128", "fc00::/7", "fe80::/10", "ff00::/8",
	)
)

func mustPrefixes(values ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		out = append(out, netip.MustParsePrefix(value))
	}
	return out
}

// ValidateURL parses rawURL and checks it names a public http(s) destination
// on the scheme's default port. Hostnames are checked again at dial time
// against the address they resolve to.
func ValidateURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(parsed.Scheme)
	port, known := defaultPorts[scheme]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if got := parsed.Port(); got != "" && got != port {
		return nil, fmt.Errorf("%w: %s", ErrBlockedPort, got)
	}
	if err := checkHost(parsed.Hostname()); err != nil {
		return nil, err
	}
	return parsed, nil
}

func checkHost(raw string) error {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	if host == "" {
		return errors.New("url host is required")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}
	for _, suffix := range localHostSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	for _, prefix := range nonPublicAddresses {
		if prefix.Contains(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, addr)
		}
	}
	return nil
}

// refuseNonPublic is a net.Dialer Control hook. It runs after name
// resolution, so it sees the address the connection actually goes to.
func refuseNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unresolved %s", ErrBlockedHost, host)
	}
	return checkAddr(addr)
}
