package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.EventEmitted("purchase-updated")
	m.EventEmitted("purchase-updated")
	m.EventDropped(DropDuplicate)
	m.NativeCall("LaunchPurchase", nil)
	m.NativeCall("LaunchPurchase", errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.emitted.WithLabelValues("purchase-updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(DropDuplicate)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.nativeCalls.WithLabelValues("LaunchPurchase", ResultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.nativeCalls.WithLabelValues("LaunchPurchase", ResultError)))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `iap_bridge_events_emitted_total{type="purchase-updated"} 2`)
	require.Contains(t, string(body), `iap_bridge_events_dropped_total{reason="duplicate"} 1`)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.EventEmitted("purchase-updated")
	m.EventDropped(DropParse)
	m.NativeCall("Consume", nil)
}
