package stats

import (
	"testing"

	"github.com/effortlog/effortlog/internal/domain/instance"
)

func TestPredictedAveragesNormalizesRatingsNotMinutes(t *testing.T) {
	insts := []instance.Instance{
		{Predicted: instance.Predicted{
			TimeEstimateMinutes: instance.Float(30),
			ExpectedRelief:      instance.Float(4), // legacy scale -> 40
			ExpectedLoad:        map[string]float64{"mental": 6},
		}},
		{Predicted: instance.Predicted{
			TimeEstimateMinutes: instance.Float(50),
			ExpectedRelief:      instance.Float(80), // already 0-100
			ExpectedLoad:        map[string]float64{"mental": 8},
		}},
	}

	avg := PredictedAverages(insts)

	if got := avg["time_estimate_minutes"]; !almost(got, 40) {
		t.Fatalf("time estimate mean = %v; minutes must not be rescaled", got)
	}
	if got := avg["expected_relief"]; !almost(got, 60) {
		t.Fatalf("expected relief mean = %v, want 60", got)
	}
	if got := avg["load.mental"]; !almost(got, 70) {
		t.Fatalf("load.mental mean = %v, want 70", got)
	}
}

func TestActualAveragesSkipsAbsentFields(t *testing.T) {
	insts := []instance.Instance{
		{Actual: instance.Actual{ReliefActual: instance.Float(4)}},
		{Actual: instance.Actual{ReliefActual: instance.Float(8)}},
		{Actual: instance.Actual{}}, // no relief recorded; must not drag the mean
	}

	avg := ActualAverages(insts)
	if got := avg["relief_actual"]; !almost(got, 60) {
		t.Fatalf("relief mean = %v, want 60", got)
	}
	if _, ok := avg["completion_percent"]; ok {
		t.Fatal("absent field produced an average")
	}
}

func TestAversionBaselines(t *testing.T) {
	mk := func(v float64) instance.Instance {
		return instance.Instance{Predicted: instance.Predicted{InitialAversion: instance.Float(v)}}
	}
	insts := []instance.Instance{mk(2), mk(3), mk(4), {}} // one never initialized

	if got := InitialAversionMean(insts); !almost(got, 30) {
		t.Fatalf("mean = %v, want 30", got)
	}
	if got := AversionBaselineRobust(insts); !almost(got, 30) {
		t.Fatalf("median = %v, want 30", got)
	}
	if got := AversionBaselineSensitive(insts); !almost(got, 30) {
		t.Fatalf("trimmed mean = %v, want 30", got)
	}
}

func TestAversionBaselinesEmpty(t *testing.T) {
	if got := AversionBaselineRobust(nil); got != 0 {
		t.Fatalf("empty robust baseline = %v", got)
	}
	if got := AversionBaselineSensitive(nil); got != 0 {
		t.Fatalf("empty sensitive baseline = %v", got)
	}
}
