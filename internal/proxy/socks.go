// Package proxy builds HTTP clients that dial through a SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const defaultTimeout = 120 * time.Second

// NewSocksClient returns a client dialing through socksAddr. An empty address
// returns a direct client with the same timeout.
func NewSocksClient(socksAddr string) (*http.Client, error) {
	if socksAddr == "" {
		return &http.Client{Timeout: defaultTimeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}

	dial := dialer.Dial
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return client(cd.DialContext), nil
	}
	return client(func(_ context.Context, network, addr string) (net.Conn, error) {
		return dial(network, addr)
	}), nil
}

func client(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: dial,
		},
		Timeout: defaultTimeout,
	}
}
