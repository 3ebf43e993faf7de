package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Health is the last known state of a proxy
type Health int

const (
	Untested Health = iota
	Healthy
	Dead
)

func (h Health) String() string {
	switch h {
	case Untested:
		return "untested"
	case Healthy:
		return "healthy"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("health(%d)", int(h))
	}
}

// Address is a network egress point
type Address struct {
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Scheme        string    `json:"scheme"`
	Health        Health    `json:"health"`
	LastValidated time.Time `json:"last_validated,omitempty"`
	Failures      int       `json:"failures"`
}

// HostPort returns "host:port"
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL returns the proxy as a URL usable by http.Transport and browser flags
func (a Address) URL() *url.URL {
	return &url.URL{Scheme: a.Scheme, Host: a.HostPort()}
}

func (a Address) String() string {
	return a.URL().String()
}

// Key identifies an address independent of its health
func (a Address) Key() string {
	return a.Scheme + "://" + a.HostPort()
}

var supportedSchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// Parse reads "host:port" or "scheme://host:port". Entries without a scheme are HTTP proxies.
func Parse(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, fmt.Errorf("empty proxy entry")
	}

	scheme := "http"
	hostport := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = strings.ToLower(raw[:i])
		hostport = strings.TrimSuffix(raw[i+3:], "/")
	}
	if !supportedSchemes[scheme] {
		return Address{}, fmt.Errorf("unsupported proxy scheme %q", scheme)
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("malformed proxy entry %q: %w", raw, err)
	}
	if host == "" || strings.ContainsAny(host, " /@") {
		return Address{}, fmt.Errorf("malformed proxy host in %q", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("malformed proxy port in %q", raw)
	}

	return Address{Host: host, Port: port, Scheme: scheme, Health: Untested}, nil
}

// maxEntryLen bounds a single list line; longer lines are reported as malformed
const maxEntryLen = 1024

// ParseList reads one proxy per line. Blank lines and '#' comments are ignored;
// malformed entries, including over-long lines, are returned separately so the
// caller can log them. Only a read failure is an error.
func ParseList(r io.Reader) ([]Address, []string, error) {
	var (
		addrs     []Address
		malformed []string
	)

	br := bufio.NewReaderSize(r, maxEntryLen)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return addrs, malformed, fmt.Errorf("read proxy list: %w", err)
		}

		if isPrefix {
			head := string(chunk[:64])
			for isPrefix && err == nil {
				_, isPrefix, err = br.ReadLine()
			}
			malformed = append(malformed, head+"...")
			if err == io.EOF {
				break
			}
			if err != nil {
				return addrs, malformed, fmt.Errorf("read proxy list: %w", err)
			}
			continue
		}

		line := strings.TrimSpace(string(chunk))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := Parse(line)
		if err != nil {
			malformed = append(malformed, line)
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, malformed, nil
}
