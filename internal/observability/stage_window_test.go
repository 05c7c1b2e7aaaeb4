package observability

import (
	"testing"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	for _, ms := range []float64{10, 20, 30, 40} {
		w.Observe(StageRoundTrip, ms)
	}
	w.ObserveIndicator("exchange_failure")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	st := snap.Stages[0]
	if st.Stage != StageRoundTrip || st.Samples != 4 {
		t.Fatalf("stage stats = %+v", st)
	}
	if st.LastMS != 40 || st.AvgMS != 25 || st.P50MS != 25 {
		t.Fatalf("stats = %+v", st)
	}
	if len(snap.Failures) != 1 || snap.Failures[0].Count != 1 {
		t.Fatalf("failures = %+v", snap.Failures)
	}
}

func TestStageWindowWraps(t *testing.T) {
	w := newStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageTurnTotal, float64(i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	st := snap.Stages[0]
	if st.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", st.Samples)
	}
	// The ring holds the last four observations, 6..9.
	if st.LastMS != 9 || st.AvgMS != 7.5 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStageWindowIgnoresJunk(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 10)
	w.Observe(StageCapture, -1)
	w.ObserveIndicator("")
	snap := w.Snapshot()
	if len(snap.Stages) != 0 || len(snap.Failures) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestQuantileInterpolates(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 10},
		{0.5, 25},
		{1, 40},
	}
	for _, tt := range tests {
		if got := quantile(sorted, tt.q); got != tt.want {
			t.Fatalf("quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	if got := quantile(nil, 0.5); got != 0 {
		t.Fatalf("quantile(nil) = %v, want 0", got)
	}
}
