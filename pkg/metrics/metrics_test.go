package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreIndependentPerInstance(t *testing.T) {
	a := New()
	b := New()

	a.InvariantViolations.Inc()
	if got := testutil.ToFloat64(a.InvariantViolations); got != 1 {
		t.Errorf("a violations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.InvariantViolations); got != 0 {
		t.Errorf("b violations = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.OrdersPlaced.WithLabelValues("m1", "yes").Inc()
	m.ObserveOp("place", time.Now())

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`predikt_engine_orders_placed_total{market="m1",side="yes"} 1`,
		`predikt_engine_operation_seconds_count{op="place"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
