package egress

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"fincite/engine/internal/llm"
)

type recordingTransport struct {
	called bool
}

func (t *recordingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.called = true
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func request(t *testing.T, raw string) *http.Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return &http.Request{URL: u}
}

func TestAllowlistPermitsApprovedHost(t *testing.T) {
	base := &recordingTransport{}
	rt := NewAllowlistRoundTripper(base, []string{"api.anthropic.com"})
	if _, err := rt.RoundTrip(request(t, "https://api.anthropic.com/v1/messages")); err != nil {
		t.Fatalf("expected approved host to pass, got %v", err)
	}
	if !base.called {
		t.Fatalf("expected request to reach base transport")
	}
}

func TestAllowlistBlocks(t *testing.T) {
	rt := NewAllowlistRoundTripper(&recordingTransport{}, []string{"api.anthropic.com"})
	cases := map[string]string{
		"unlisted host": "https://example.com/evil",
		"plain http":    "http://api.anthropic.com/v1/messages",
		"literal ip":    "https://93.184.216.34/",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := rt.RoundTrip(request(t, raw))
			if !errors.Is(err, llm.ErrEgressBlocked) {
				t.Fatalf("expected egress blocked, got %v", err)
			}
		})
	}
}
