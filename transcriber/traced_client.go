package transcriber

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

type TracedClient struct {
	client *http.Client
}

func NewTracedClient() *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// tracer fills NetworkMetrics from httptrace callbacks.
type tracer struct {
	metrics                                    *NetworkMetrics
	getConnStart, dnsStart, tcpStart, tlsStart time.Time
	gotConn, wroteHeaders, wroteRequest        time.Time
	firstByte                                  time.Time
}

func (t *tracer) trace() *httptrace.ClientTrace {
	m := t.metrics
	return &httptrace.ClientTrace{
		GetConn: func(_ string) { t.getConnStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			t.gotConn = time.Now()
			m.ConnWait = t.gotConn.Sub(t.getConnStart)
			m.ConnReused = info.Reused
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { t.dnsStart = time.Now() },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { m.DNS = time.Since(t.dnsStart) },
		ConnectStart:      func(_, _ string) { t.tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { m.TCP = time.Since(t.tcpStart) },
		TLSHandshakeStart: func() { t.tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			m.TLS = time.Since(t.tlsStart)
			m.TLSProtocol = cs.NegotiatedProtocol
		},
		WroteHeaders: func() {
			t.wroteHeaders = time.Now()
			m.ReqHeaders = t.wroteHeaders.Sub(t.gotConn)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			t.wroteRequest = time.Now()
			m.ReqBody = t.wroteRequest.Sub(t.wroteHeaders)
		},
		GotFirstResponseByte: func() {
			t.firstByte = time.Now()
			m.TTFB = t.firstByte.Sub(t.wroteRequest)
		},
	}
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	t := &tracer{metrics: &NetworkMetrics{}}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), t.trace()))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !t.firstByte.IsZero() {
		t.metrics.Download = time.Since(t.firstByte)
	}
	t.metrics.Total = time.Since(reqStart)

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    t.metrics,
	}, nil
}

// HTTPClient exposes the pooled client so SDK-based providers share its
// connections.
func (c *TracedClient) HTTPClient() *http.Client { return c.client }

// WarmConnection opens a connection to url so the upload skips the TLS
// handshake. It returns the handshake time.
func (c *TracedClient) WarmConnection(ctx context.Context, url string) time.Duration {
	var tlsStart time.Time
	var tlsDuration time.Duration

	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tlsDuration
}
