package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotentAndObservers(t *testing.T) {
	Init()
	first := ingestPagesTotal
	Init()
	require.Same(t, first, ingestPagesTotal)

	before := testutil.ToFloat64(ingestPagesTotal.WithLabelValues("docs.example.com", "200"))
	ObserveFetch("https://Docs.Example.com/a", "200", 512)
	require.Equal(t, before+1, testutil.ToFloat64(ingestPagesTotal.WithLabelValues("docs.example.com", "200")))

	jobs := testutil.ToFloat64(ingestJobsTotal.WithLabelValues("sitemap", "completed"))
	ObserveJob("sitemap", "completed")
	require.Equal(t, jobs+1, testutil.ToFloat64(ingestJobsTotal.WithLabelValues("sitemap", "completed")))

	streams := testutil.ToFloat64(streamConnections)
	StreamOpened()
	require.Equal(t, streams+1, testutil.ToFloat64(streamConnections))
	StreamClosed()
	require.Equal(t, streams, testutil.ToFloat64(streamConnections))

	ObserveRateLimitDelay("example.com", 200*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(ingestRateLimitDelays))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
