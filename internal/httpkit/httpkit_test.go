package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"disabled", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		header string
		want   string
	}{
		{"default", nil, "", "Taskmate/dev"},
		{"override", []ClientOption{WithUserAgent("TestBot/1.0")}, "", "TestBot/1.0"},
		{"caller header wins", nil, "Custom/2.0", "Custom/2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}
			resp, err := NewClient(tt.opts...).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("User-Agent = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("model not found: llama9"))
	if got := ReadErrorBody(body, 9); got != "model not" {
		t.Errorf("ReadErrorBody = %q, want %q", got, "model not")
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}

type fakeRoundTripper struct {
	errs  []error
	calls int
}

func (f *fakeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errno}
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		count     int
		wantCalls int
		wantErr   bool
	}{
		{"success first try", nil, 2, 1, false},
		{"recovers after unreachable", []error{dialErr(syscall.EHOSTUNREACH)}, 2, 2, false},
		{"exhausts retries", []error{dialErr(syscall.ECONNREFUSED), dialErr(syscall.ECONNREFUSED), dialErr(syscall.ECONNREFUSED)}, 2, 3, true},
		{"non-retryable", []error{errors.New("tls: bad certificate")}, 2, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &fakeRoundTripper{errs: tt.errs}
			rt := &retryTransport{base: base, count: tt.count, delay: time.Millisecond}
			req, _ := http.NewRequest(http.MethodGet, "http://ollama.invalid/api/tags", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if base.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", base.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_UnrewindableBody(t *testing.T) {
	base := &fakeRoundTripper{errs: []error{dialErr(syscall.ECONNREFUSED)}}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://ollama.invalid/api/chat", io.NopCloser(strings.NewReader("{}")))
	req.GetBody = nil
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected the connect error")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1 (body cannot be replayed)", base.calls)
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	base := &fakeRoundTripper{errs: []error{dialErr(syscall.EHOSTUNREACH), dialErr(syscall.EHOSTUNREACH)}}
	rt := &retryTransport{base: base, count: 3, delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://ollama.invalid/", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestConnectFailed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{dialErr(syscall.EHOSTUNREACH), true},
		{dialErr(syscall.ENETUNREACH), true},
		{fmt.Errorf("wrapped: %w", dialErr(syscall.ECONNREFUSED)), true},
		{dialErr(syscall.ECONNRESET), false},
		{errors.New("EOF"), false},
	}
	for _, tt := range tests {
		if got := connectFailed(tt.err); got != tt.want {
			t.Errorf("connectFailed(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
