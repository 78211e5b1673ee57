package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateRanges holds the private and reserved IP ranges rejected for
// render targets, so a render request cannot be pointed at loopback or
// internal infrastructure.
var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		// IPv4
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"169.254.0.0/16", // link-local
		"100.64.0.0/10",  // CGNAT (RFC 6598)
		"0.0.0.0/8",      // "this" network
		"224.0.0.0/4",    // multicast

		// IPv6
		"::1/128",   // loopback
		"fe80::/10", // link-local
		"fc00::/7",  // unique local
		"ff00::/8",  // multicast
	}

	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in private ranges: %s", cidr))
		}
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP returns true if the IP belongs to a private or reserved range
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range privateRanges {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateRenderURL checks that a render target is an absolute http(s)
// URL and is not an IP literal in a private range. Hostnames are not
// resolved here; DNS-based blocking would need a resolver hook in the
// browser itself.
func ValidateRenderURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("url has no host")
	}

	if ip := net.ParseIP(hostname); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("url host %s is in a private address range", hostname)
	}

	return nil
}
