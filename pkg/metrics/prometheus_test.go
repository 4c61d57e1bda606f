package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordFetch("full", true, 0.1)
	r.RecordFetch("full", false, 0.2)
	r.RecordDropped("overlay", 3)
	r.RecordDropped("overlay", 0)
	r.RecordStale()
	r.SurfaceMounted(1)
	r.SurfaceMounted(1)
	r.SurfaceMounted(-1)

	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("full", "error")); got != 1 {
		t.Fatalf("expected 1 failed fetch, got %v", got)
	}
	if got := testutil.ToFloat64(r.droppedTotal.WithLabelValues("overlay")); got != 3 {
		t.Fatalf("expected 3 dropped overlays, got %v", got)
	}
	if got := testutil.ToFloat64(r.staleTotal); got != 1 {
		t.Fatalf("expected 1 stale, got %v", got)
	}
	if got := testutil.ToFloat64(r.activeSurfaces); got != 1 {
		t.Fatalf("expected 1 active surface, got %v", got)
	}
}

func TestRecorderSeparateRegistries(t *testing.T) {
	// Two recorders on separate registries must not collide.
	_ = New(prometheus.NewRegistry())
	_ = New(prometheus.NewRegistry())
}
