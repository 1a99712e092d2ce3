// Package anomaly flags employees whose current activity is a statistical
// outlier against their own historical baseline.
package anomaly

import (
	"math"
	"sort"

	"github.com/Veraticus/tripwire/internal/model"
)

// DefaultThreshold is the default |z-score| cut-off.
const DefaultThreshold = 2.0

// Baseline summarizes a metric history.
type Baseline struct {
	Mean   float64
	StdDev float64
	Count  int
}

// ComputeBaseline returns the mean and population standard deviation.
func ComputeBaseline(values []float64) Baseline {
	if len(values) == 0 {
		return Baseline{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}

	return Baseline{
		Mean:   mean,
		StdDev: math.Sqrt(variance / float64(len(values))),
		Count:  len(values),
	}
}

// Detect reports every series whose current value deviates from its history
// by more than threshold standard deviations, most extreme first. A series
// with no history or a constant history is never reported.
func Detect(series []model.MetricSeries, threshold float64) []model.Anomaly {
	anomalies := []model.Anomaly{}
	for _, s := range series {
		base := ComputeBaseline(s.History)
		if base.Count == 0 || base.StdDev == 0 {
			continue
		}

		z := (s.Current - base.Mean) / base.StdDev
		if math.Abs(z) <= threshold {
			continue
		}

		anomalies = append(anomalies, model.Anomaly{
			EmployeeID:   s.EmployeeID,
			Metric:       s.Metric,
			CurrentValue: s.Current,
			Mean:         base.Mean,
			StdDev:       base.StdDev,
			ZScore:       z,
		})
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		zi, zj := math.Abs(anomalies[i].ZScore), math.Abs(anomalies[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		if anomalies[i].EmployeeID != anomalies[j].EmployeeID {
			return anomalies[i].EmployeeID < anomalies[j].EmployeeID
		}
		return anomalies[i].Metric < anomalies[j].Metric
	})
	return anomalies
}
