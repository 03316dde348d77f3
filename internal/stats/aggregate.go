package stats

import "github.com/effortlog/effortlog/internal/domain/instance"

// Averages maps a predicted/actual field name to its aggregated value.
// Load components appear under "load.<component>".
type Averages map[string]float64

// PredictedAverages computes the arithmetic mean of each predicted field
// across the given instances. Rating-scale fields (relief, aversion, load)
// are normalized from the legacy 0–10 scale before averaging; time estimates
// are minutes and pass through as-is.
func PredictedAverages(insts []instance.Instance) Averages {
	cols := map[string][]float64{}
	for i := range insts {
		p := &insts[i].Predicted
		appendVal(cols, "time_estimate_minutes", p.TimeEstimateMinutes, false)
		appendVal(cols, "expected_relief", p.ExpectedRelief, true)
		appendVal(cols, "expected_aversion", p.ExpectedAversion, true)
		for k, v := range p.ExpectedLoad {
			cols["load."+k] = append(cols["load."+k], NormalizeScale(v))
		}
	}
	return meanCols(cols)
}

// ActualAverages computes the arithmetic mean of each actual field across
// the given instances.
func ActualAverages(insts []instance.Instance) Averages {
	cols := map[string][]float64{}
	for i := range insts {
		a := &insts[i].Actual
		appendVal(cols, "relief_actual", a.ReliefActual, true)
		appendVal(cols, "completion_percent", a.CompletionPercent, false)
		appendVal(cols, "time_actual_minutes", a.TimeActualMinutes, false)
		for k, v := range a.Load {
			cols["load."+k] = append(cols["load."+k], NormalizeScale(v))
		}
	}
	return meanCols(cols)
}

// InitialAversionMean averages the write-once initialization aversion across
// the given instances. Instances that never recorded one are skipped.
func InitialAversionMean(insts []instance.Instance) float64 {
	return Mean(initialAversions(insts))
}

// AversionBaselineRobust returns the median of the initialization aversions.
func AversionBaselineRobust(insts []instance.Instance) float64 {
	return Median(initialAversions(insts))
}

// AversionBaselineSensitive returns the IQR-trimmed mean of the
// initialization aversions.
func AversionBaselineSensitive(insts []instance.Instance) float64 {
	return TrimmedMean(initialAversions(insts))
}

func initialAversions(insts []instance.Instance) []float64 {
	var vs []float64
	for i := range insts {
		if av := insts[i].Predicted.InitialAversion; av != nil {
			vs = append(vs, NormalizeScale(*av))
		}
	}
	return vs
}

func appendVal(cols map[string][]float64, key string, v *float64, normalize bool) {
	if v == nil {
		return
	}
	val := *v
	if normalize {
		val = NormalizeScale(val)
	}
	cols[key] = append(cols[key], val)
}

func meanCols(cols map[string][]float64) Averages {
	out := make(Averages, len(cols))
	for k, vs := range cols {
		out[k] = Mean(vs)
	}
	return out
}
