package youtube

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

// newHTTPClient builds the client shared by lookups and downloads. An empty
// proxyStr means a direct connection; http(s) and socks5 proxies are supported.
func newHTTPClient(proxyStr string, log zerolog.Logger) (*http.Client, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	if proxyStr == "" {
		return client, nil
	}

	proxyURL, err := url.Parse(proxyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy format: %w", err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	case "socks5":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			auth = &proxy.Auth{User: proxyURL.User.Username()}
			if pass, ok := proxyURL.User.Password(); ok {
				auth.Password = pass
			}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	log.Info().Str("scheme", proxyURL.Scheme).Str("host", proxyURL.Host).Msg("using proxy")
	return client, nil
}
