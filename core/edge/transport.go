package edge

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// DefaultUserAgent 客户端没有带 UA 时使用
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// randomUserAgent 随机的桌面 Chrome UA，代理请求没有带 UA 时使用
func randomUserAgent() string {
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.%d Safari/537.36",
		rand.Intn(26)+120,
		rand.Intn(1500)+6000,
		rand.Intn(200)+100,
	)
}

// plainTransport http 源站和测试用的普通连接池
var plainTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DisableCompression:    true,
}

// chromeTransport https 源站使用 Chrome 的 TLS 指纹，协商到 h2 时走 http2
type chromeTransport struct {
	dialer *net.Dialer
}

func newChromeTransport() *chromeTransport {
	return &chromeTransport{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return plainTransport.RoundTrip(req)
	}

	host := req.URL.Hostname()
	addr := net.JoinHostPort(host, portOf(req.URL))

	conn, err := t.dialer.DialContext(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
	}, utls.HelloChrome_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2 := &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
				return tlsConn, nil
			},
		}
		return h2.RoundTrip(req)
	}

	h1 := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return tlsConn, nil
		},
		DisableKeepAlives:  true,
		DisableCompression: true,
	}
	return h1.RoundTrip(req)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

// NewUpstreamClient 访问第三方源站的 client，timeout 为 0 时不限制（音频流可能很长）
func NewUpstreamClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newChromeTransport(),
		Timeout:   timeout,
	}
}

// NewPlainClient 不做指纹伪装的 client，测试和内网源站使用
func NewPlainClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: plainTransport,
		Timeout:   timeout,
	}
}
