/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"golang.org/x/net/http2"
)

// ErrForbiddenAddress indicates that an outbound connection was refused before
// it was established. Federation fetches must never reach private address
// space or unusual ports.
var ErrForbiddenAddress = errors.New("connection to forbidden address refused")

// ClientConfig holds the configuration for the outbound HTTP client.
type ClientConfig struct {
	Timeout      time.Duration
	AllowedPorts []string
	// AllowPrivateAddresses disables the private-range guard. Only for tests
	// against local fixtures.
	AllowPrivateAddresses bool
}

const defaultTimeout = 10 * time.Second

// NewHTTPClient returns an HTTP client for federation traffic. Redirects are
// not followed and every dial is checked against the address guard before a
// connection is established.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	allowedPorts := cfg.AllowedPorts
	if len(allowedPorts) == 0 {
		allowedPorts = []string{"80", "443"}
	}

	guard := &addressGuard{
		allowedPorts: allowedPorts,
		allowPrivate: cfg.AllowPrivateAddresses,
	}

	dialer := &net.Dialer{
		Timeout: timeout,
		Control: guard.control,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Error configuring HTTP transport for HTTP/2")
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type addressGuard struct {
	allowedPorts []string
	allowPrivate bool
}

// control runs after DNS resolution and before the connection is established,
// so a hostname resolving to a private address is caught here.
func (g *addressGuard) control(network, address string, _ syscall.RawConn) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: invalid address %q", ErrForbiddenAddress, address)
	}

	if !g.portAllowed(port) {
		return fmt.Errorf("%w: port %s", ErrForbiddenAddress, port)
	}

	if g.allowPrivate {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unresolved host %q", ErrForbiddenAddress, host)
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
	}

	return nil
}

func (g *addressGuard) portAllowed(port string) bool {
	for _, p := range g.allowedPorts {
		if p == port {
			return true
		}
	}

	return false
}
