package httpkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	c := NewClient(WithTimeout(0), WithHeaderTimeout(2*time.Minute))
	if c.Timeout != 0 {
		t.Errorf("zero timeout = %v, want 0", c.Timeout)
	}
	ua, ok := c.Transport.(*userAgentTransport)
	if !ok {
		t.Fatalf("transport = %T, want *userAgentTransport", c.Transport)
	}
	if ht := ua.base.(*http.Transport).ResponseHeaderTimeout; ht != 2*time.Minute {
		t.Errorf("header timeout = %v, want 2m", ht)
	}
	if _, ok := NewClient(WithDialRetry(3, time.Second)).Transport.(*redialTransport); !ok {
		t.Error("WithDialRetry should wrap the transport")
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name string
		opts []ClientOption
		want string
	}{
		{name: "default", want: "hearth/"},
		{name: "override", opts: []ClientOption{WithUserAgent("Dashboard/2.0")}, want: "Dashboard/2.0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := NewClient(tc.opts...).Get(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if !strings.HasPrefix(string(body), tc.want) {
				t.Errorf("User-Agent = %q, want prefix %q", body, tc.want)
			}
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("bad entity")), 512); got != "bad entity" {
		t.Errorf("ReadErrorBody() = %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader(strings.Repeat("x", 100))), 10); len(got) != 10 {
		t.Errorf("truncated length = %d, want 10", len(got))
	}
	if got := ReadErrorBody(nil, 512); got != "" {
		t.Errorf("nil body = %q, want empty", got)
	}
	DrainAndClose(nil, 10)
}

type flakyRoundTripper struct {
	failures int
	calls    int
	bodies   []string
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(b))
	}
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestRedialTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", failures: 0, wantCalls: 1},
		{name: "recovers after one failure", failures: 1, wantCalls: 2},
		{name: "exhausts retries", failures: 10, wantCalls: 3, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft := &flakyRoundTripper{failures: tc.failures}
			rt := &redialTransport{base: ft, count: 2, delay: time.Millisecond}

			req, _ := http.NewRequest(http.MethodGet, "http://ha.local/api/", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("RoundTrip() error = %v, wantErr %v", err, tc.wantErr)
			}
			if ft.calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", ft.calls, tc.wantCalls)
			}
		})
	}
}

func TestRedialTransport_RewindsBody(t *testing.T) {
	ft := &flakyRoundTripper{failures: 1}
	rt := &redialTransport{base: ft, count: 1, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://ha.local/api/services/light/turn_on", bytes.NewReader([]byte(`{"entity_id":"light.kitchen"}`)))
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	if len(ft.bodies) != 2 || ft.bodies[0] != ft.bodies[1] {
		t.Errorf("bodies = %q, want identical body on both attempts", ft.bodies)
	}
}

func TestRedialTransport_ContextCancelled(t *testing.T) {
	ft := &flakyRoundTripper{failures: 10}
	rt := &redialTransport{base: ft, count: 5, delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://ha.local/api/", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RoundTrip() error = %v, want context.Canceled", err)
	}
}

func TestDialFailed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{syscall.EHOSTUNREACH, true},
		{syscall.ECONNREFUSED, true},
		{&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}, true},
		{syscall.ECONNRESET, false},
		{errors.New("tls handshake"), false},
	}
	for _, tc := range tests {
		if got := dialFailed(tc.err); got != tc.want {
			t.Errorf("dialFailed(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRedialTransport_UnrewindableBody(t *testing.T) {
	ft := &flakyRoundTripper{failures: 1}
	rt := &redialTransport{base: ft, count: 3, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://ha.local/api/services/lock/unlock", io.NopCloser(strings.NewReader(`{}`)))
	req.GetBody = nil
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected the dial error to surface")
	}
	if ft.calls != 1 {
		t.Errorf("calls = %d, want 1", ft.calls)
	}
}
