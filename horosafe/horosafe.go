// Package horosafe provides the security primitives shared by browserd and
// mirrord: the hostname allow-list gate that every navigation passes through,
// identifier validation and bounded I/O helpers.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ErrInvalidTarget is returned when a URL is malformed, uses a scheme other
// than http/https, or names a host outside the allow-list.
var ErrInvalidTarget = errors.New("horosafe: invalid target")

// ErrResponseTooLarge is returned by LimitedReadAll when the cap is exceeded.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// AllowList is an immutable set of hostnames a browser may be pointed at.
// Entries are exact hostnames ("x.com") or wildcard suffixes ("*.steamstatic.com")
// that match any subdomain but not the bare domain.
type AllowList struct {
	exact    map[string]bool
	suffixes []string
}

// NewAllowList builds an AllowList. Blank entries are ignored, case and any
// trailing dot are normalised.
func NewAllowList(hosts ...string) *AllowList {
	al := &AllowList{exact: make(map[string]bool)}
	for _, h := range hosts {
		h = normaliseHost(h)
		if h == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(h, "*."); ok {
			al.suffixes = append(al.suffixes, "."+rest)
			continue
		}
		al.exact[h] = true
	}
	return al
}

// ParseAllowList splits a comma or whitespace separated host list.
func ParseAllowList(s string) *AllowList {
	return NewAllowList(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})...)
}

// Hosts returns the configured entries in sorted order.
func (al *AllowList) Hosts() []string {
	out := make([]string, 0, len(al.exact)+len(al.suffixes))
	for h := range al.exact {
		out = append(out, h)
	}
	for _, s := range al.suffixes {
		out = append(out, "*"+s)
	}
	sort.Strings(out)
	return out
}

// Allowed reports whether host is on the list.
func (al *AllowList) Allowed(host string) bool {
	if al == nil {
		return false
	}
	host = normaliseHost(host)
	if host == "" {
		return false
	}
	if al.exact[host] {
		return true
	}
	for _, s := range al.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Check parses rawURL and verifies it is an absolute http(s) URL whose host is
// allow-listed. Literal loopback or private IPs are refused even if listed.
// The returned URL is the parsed form callers should navigate to.
func (al *AllowList) Check(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidTarget)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidTarget, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrInvalidTarget)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return nil, fmt.Errorf("%w: private address %s", ErrInvalidTarget, host)
	}
	if !al.Allowed(host) {
		return nil, fmt.Errorf("%w: host %q not allow-listed", ErrInvalidTarget, host)
	}
	return u, nil
}

// ValidateIdentifier rejects identifiers that contain characters unsuitable
// for URL path segments or log keys. Allows alphanumeric, underscore, hyphen
// and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("horosafe: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrResponseTooLarge
// if the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

func normaliseHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7", "100.64.0.0/10"} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
