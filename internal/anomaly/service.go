package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
)

// Config tunes the anomaly scan.
type Config struct {
	Threshold  float64
	WindowDays int
}

// DefaultConfig returns a 30-day baseline with a 2.0 threshold.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, WindowDays: 30}
}

// Store is the persistence the scan reads from.
type Store interface {
	ListEmployees(ctx context.Context, activeOnly bool) ([]model.Employee, error)
	ListSentTimes(ctx context.Context, start, end time.Time) (map[string][]time.Time, error)
}

// Service builds daily activity series from stored communications.
type Service struct {
	store  Store
	logger *slog.Logger
	hours  detection.Config
	cfg    Config
}

// NewService creates an anomaly service. Business hours come from the
// detection configuration so after-hours means the same thing everywhere.
func NewService(store Store, hours detection.Config, cfg Config, logger *slog.Logger) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, hours: hours, cfg: cfg, logger: logger}
}

// Scan compares today's activity of every active employee, up to now, with
// the preceding WindowDays full days. Days are calendar days in the
// employee's time zone.
func (s *Service) Scan(ctx context.Context, now time.Time) ([]model.Anomaly, error) {
	series, err := s.Series(ctx, now)
	if err != nil {
		return nil, err
	}

	anomalies := Detect(series, s.cfg.Threshold)
	for _, a := range anomalies {
		metrics.AnomaliesDetectedTotal.WithLabelValues(string(a.Metric)).Inc()
	}
	s.logger.Info("anomaly scan finished", "series", len(series), "anomalies", len(anomalies))
	return anomalies, nil
}

// Series builds the email volume and after-hours series for every active
// employee.
func (s *Service) Series(ctx context.Context, now time.Time) ([]model.MetricSeries, error) {
	employees, err := s.store.ListEmployees(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	// One extra day on both sides covers every employee time zone.
	start := now.AddDate(0, 0, -(s.cfg.WindowDays + 1))
	sent, err := s.store.ListSentTimes(ctx, start, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}

	series := make([]model.MetricSeries, 0, 2*len(employees))
	for i := range employees {
		e := &employees[i]
		volume, afterHours := s.dailyCounts(sent[e.ID], now, e.Location())
		series = append(series,
			model.MetricSeries{
				EmployeeID: e.ID,
				Metric:     model.MetricEmailVolume,
				History:    volume[1:],
				Current:    volume[0],
			},
			model.MetricSeries{
				EmployeeID: e.ID,
				Metric:     model.MetricAfterHours,
				History:    afterHours[1:],
				Current:    afterHours[0],
			},
		)
	}
	return series, nil
}

// dailyCounts buckets times by local calendar day. Index 0 is today up to
// now; index k is k days ago.
func (s *Service) dailyCounts(times []time.Time, now time.Time, loc *time.Location) (volume, afterHours []float64) {
	volume = make([]float64, s.cfg.WindowDays+1)
	afterHours = make([]float64, s.cfg.WindowDays+1)

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for _, t := range times {
		if t.After(now) {
			continue
		}
		lt := t.In(loc)
		day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
		// Calendar arithmetic on dates keeps DST days whole.
		k := daysBetween(day, today)
		if k < 0 || k > s.cfg.WindowDays {
			continue
		}
		volume[k]++
		if s.hours.IsAfterHours(t, loc) {
			afterHours[k]++
		}
	}
	return volume, afterHours
}

func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
