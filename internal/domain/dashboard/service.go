package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ckdcare/ckdcare/internal/domain/labs"
	"github.com/ckdcare/ckdcare/internal/domain/notification"
)

// Windows used by the overview.
const (
	pendingLabWindow = 90 * 24 * time.Hour
	trendMonths      = 6
)

type AppointmentCounter interface {
	CountUpcoming(ctx context.Context) (int, error)
}

type AlertCounter interface {
	CountUnreadBySeverity(ctx context.Context, severity notification.Severity) (int, error)
}

type LabStats interface {
	MonthlyAverages(ctx context.Context, code labs.TestCode, since time.Time) ([]labs.MonthlyValue, error)
	CountPatientsWithoutResultSince(ctx context.Context, since time.Time) (int, error)
}

type Service struct {
	stats        StatsRepository
	appointments AppointmentCounter
	alerts       AlertCounter
	labs         LabStats
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(stats StatsRepository, appointments AppointmentCounter, alerts AlertCounter, labs LabStats, logger zerolog.Logger) *Service {
	return &Service{
		stats:        stats,
		appointments: appointments,
		alerts:       alerts,
		labs:         labs,
		logger:       logger.With().Str("component", "dashboard").Logger(),
		now:          time.Now,
	}
}

// Stats gathers the overview. The aggregates are independent and run
// concurrently; the first failure cancels the rest.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	out := &Stats{GeneratedAt: now}
	var counts []ClassificationCount

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.stats.CountPatients(gctx)
		if err != nil {
			return fmt.Errorf("count patients: %w", err)
		}
		out.TotalPatients = n
		return nil
	})
	g.Go(func() error {
		c, err := s.stats.ClassificationCounts(gctx)
		if err != nil {
			return fmt.Errorf("classification counts: %w", err)
		}
		counts = c
		return nil
	})
	g.Go(func() error {
		n, err := s.appointments.CountUpcoming(gctx)
		if err != nil {
			return fmt.Errorf("upcoming appointments: %w", err)
		}
		out.UpcomingAppointments = n
		return nil
	})
	g.Go(func() error {
		n, err := s.alerts.CountUnreadBySeverity(gctx, notification.SeverityCritical)
		if err != nil {
			return fmt.Errorf("critical alerts: %w", err)
		}
		out.CriticalAlerts = n
		return nil
	})
	g.Go(func() error {
		n, err := s.labs.CountPatientsWithoutResultSince(gctx, now.Add(-pendingLabWindow))
		if err != nil {
			return fmt.Errorf("pending lab results: %w", err)
		}
		out.PendingLabResults = n
		return nil
	})
	g.Go(func() error {
		since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(trendMonths - 1), 0)
		trend, err := s.labs.MonthlyAverages(gctx, labs.CodeEGFR, since)
		if err != nil {
			return fmt.Errorf("egfr trend: %w", err)
		}
		out.EGFRTrend = trend
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.StageDistribution, out.RiskDistribution = distributions(counts)
	if out.EGFRTrend == nil {
		out.EGFRTrend = []labs.MonthlyValue{}
	}
	s.logger.Debug().Int("patients", out.TotalPatients).Msg("dashboard stats computed")
	return out, nil
}

// EvaluateMeasure runs a predefined measure. It returns nil without error
// when the measure does not exist.
func (s *Service) EvaluateMeasure(ctx context.Context, id string) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, nil
	}
	rows, err := s.stats.RunMeasure(ctx, m.SQL)
	if err != nil {
		return nil, fmt.Errorf("measure %s: %w", id, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Results:     rows,
	}, nil
}
