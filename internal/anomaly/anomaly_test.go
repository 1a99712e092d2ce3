package anomaly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alternating returns n values alternating mean-d and mean+d, whose
// population standard deviation is exactly d.
func alternating(n int, mean, d float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = mean - d
		} else {
			out[i] = mean + d
		}
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestComputeBaseline(t *testing.T) {
	base := ComputeBaseline(alternating(30, 10, 2))
	assert.InDelta(t, 10, base.Mean, 1e-9)
	assert.InDelta(t, 2, base.StdDev, 1e-9)
	assert.Equal(t, 30, base.Count)

	assert.Equal(t, Baseline{}, ComputeBaseline(nil))
}

func TestDetect(t *testing.T) {
	series := []model.MetricSeries{
		{EmployeeID: "spiky", Metric: model.MetricEmailVolume, History: alternating(30, 10, 2), Current: 20},
		{EmployeeID: "flat", Metric: model.MetricEmailVolume, History: constant(30, 5), Current: 500},
		{EmployeeID: "quiet", Metric: model.MetricEmailVolume, History: alternating(30, 10, 2), Current: 3},
		{EmployeeID: "edge", Metric: model.MetricAfterHours, History: alternating(30, 10, 2), Current: 14},
		{EmployeeID: "new", Metric: model.MetricAfterHours, Current: 40},
	}

	got := Detect(series, DefaultThreshold)
	require.Len(t, got, 2)

	assert.Equal(t, "spiky", got[0].EmployeeID)
	assert.InDelta(t, 5.0, got[0].ZScore, 1e-9)
	assert.InDelta(t, 10, got[0].Mean, 1e-9)
	assert.InDelta(t, 2, got[0].StdDev, 1e-9)
	assert.InDelta(t, 20, got[0].CurrentValue, 1e-9)
	assert.True(t, got[0].IsSpike())

	assert.Equal(t, "quiet", got[1].EmployeeID)
	assert.InDelta(t, -3.5, got[1].ZScore, 1e-9)
	assert.False(t, got[1].IsSpike())
}

func TestDetect_NeverReportsZeroVariance(t *testing.T) {
	for _, current := range []float64{0, 5, 6, 1e9} {
		got := Detect([]model.MetricSeries{
			{EmployeeID: "flat", Metric: model.MetricEmailVolume, History: constant(30, 5), Current: current},
		}, 0)
		assert.Empty(t, got, "current %v", current)
	}
}

func TestDetect_SortedByMagnitude(t *testing.T) {
	var series []model.MetricSeries
	for i, current := range []float64{16, 2, 30, 0} {
		series = append(series, model.MetricSeries{
			EmployeeID: fmt.Sprintf("e%d", i),
			Metric:     model.MetricEmailVolume,
			History:    alternating(30, 10, 2),
			Current:    current,
		})
	}

	got := Detect(series, DefaultThreshold)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, math.Abs(got[i-1].ZScore), math.Abs(got[i].ZScore))
	}
	assert.Equal(t, "e2", got[0].EmployeeID)
}

func TestService_Scan(t *testing.T) {
	store := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Employees: []string{"busy", "steady"},
	}).Storage
	ctx := context.Background()

	now := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	var comms []model.Communication
	add := func(employeeID string, day time.Time, count int) {
		for i := range count {
			comms = append(comms, model.Communication{
				ID:         fmt.Sprintf("%s-%s-%d", employeeID, day.Format("0102"), i),
				EmployeeID: employeeID,
				Sender:     employeeID + "@example.com",
				Subject:    "update",
				SentAt:     day.Add(10*time.Hour + time.Duration(i)*time.Minute),
			})
		}
	}

	for k := 1; k <= 30; k++ {
		day := today.AddDate(0, 0, -k)
		// busy alternates 1 and 3 a day; steady always sends 2.
		if k%2 == 1 {
			add("busy", day, 1)
		} else {
			add("busy", day, 3)
		}
		add("steady", day, 2)
	}
	add("busy", today, 10)
	add("steady", today, 10)
	require.NoError(t, store.SaveCommunications(ctx, comms))

	svc := NewService(store, detection.DefaultConfig(), DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	series, err := svc.Series(ctx, now)
	require.NoError(t, err)
	require.Len(t, series, 4)
	for _, s := range series {
		assert.Len(t, s.History, 30)
	}

	anomalies, err := svc.Scan(ctx, now)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "busy", anomalies[0].EmployeeID)
	assert.Equal(t, model.MetricEmailVolume, anomalies[0].Metric)
	assert.InDelta(t, 10, anomalies[0].CurrentValue, 1e-9)
	assert.InDelta(t, 2, anomalies[0].Mean, 1e-9)
	assert.InDelta(t, 1, anomalies[0].StdDev, 1e-9)
	assert.InDelta(t, 8, anomalies[0].ZScore, 1e-9)
}
