package lunametrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsExposedOverHTTP(t *testing.T) {
	m := New()
	m.IncSent()
	m.IncReceived()
	m.IncEchoed()
	m.AddPageFaults(2, 5)
	m.ObserveRTT(10 * time.Millisecond)
	m.ObserveRTT(20 * time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestObserveRTTUpdatesGauges(t *testing.T) {
	m := New()
	m.ObserveRTT(10 * time.Millisecond)
	m.ObserveRTT(30 * time.Millisecond)
	require.InDelta(t, 20_000_000, m.rtt.Mean(), 1)
}
