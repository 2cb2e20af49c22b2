package httpclient

import (
	"net/http"
	"testing"
)

type countingRT struct{ n int }

func (c *countingRT) RoundTrip(*http.Request) (*http.Response, error) {
	c.n++
	return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
}

func TestNewOutbound_UsesGivenTransport(t *testing.T) {
	rt := &countingRT{}
	hc := NewOutbound(rt, 0)
	if hc.Timeout != DefaultTimeout {
		t.Fatalf("timeout=%s want %s", hc.Timeout, DefaultTimeout)
	}
	res, err := hc.Get("http://upstream.invalid/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = res.Body.Close()
	if rt.n != 1 || res.StatusCode != http.StatusNoContent {
		t.Fatalf("calls=%d status=%d", rt.n, res.StatusCode)
	}
}

func TestNewOutbound_DefaultTransport(t *testing.T) {
	hc := NewOutbound(nil, 0)
	if _, ok := hc.Transport.(*http.Transport); !ok {
		t.Fatalf("transport=%T want *http.Transport", hc.Transport)
	}
}
