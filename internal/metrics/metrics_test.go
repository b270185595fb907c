package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RecordPrediction("bullish", 0.7)
	r.RecordPrediction("bullish", 0.4)
	r.RecordPrediction("neutral", 0.5)
	r.RecordSignalFailure("wave")
	r.RecordOptimization(true, 0.8)
	r.RecordOptimization(false, 0.1)
	r.RecordFetch("http", nil)
	r.RecordFetch("http", errors.New("boom"))

	if got := testutil.ToFloat64(r.predictions.WithLabelValues("bullish")); got != 2 {
		t.Errorf("bullish predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.signalFailures.WithLabelValues("wave")); got != 1 {
		t.Errorf("wave failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.optimizerFitness); got != 0.8 {
		t.Errorf("fitness gauge = %v, want 0.8", got)
	}
	if got := testutil.ToFloat64(r.fetches.WithLabelValues("http", "error")); got != 1 {
		t.Errorf("failed fetches = %v, want 1", got)
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordPrediction("bearish", 0.9)
	if got := testutil.ToFloat64(b.predictions.WithLabelValues("bearish")); got != 0 {
		t.Errorf("recorder b saw %v predictions", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordLatency("predict", 0.02)
	path := filepath.Join(t.TempDir(), "chartseer.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "chartseer_operation_duration_seconds") {
		t.Errorf("textfile missing latency metric:\n%s", data)
	}
}
