/*
scheduler.go - Automated monthly MAS report

PURPOSE:
  Generates the previous calendar month's statement on a cron schedule,
  writes the workbook into the report directory and archives a ReportRun
  so the store room can see what was produced and when.

DESIGN:
  - robfig/cron drives the schedule (default "0 1 1 * *", 01:00 on the 1st)
  - On Start the previous month is also checked once, so a server that was
    down on the 1st catches up
  - A period with a completed run is skipped
  - Runs are recorded as running, then completed or failed
  - One run at a time per process

USAGE:
  s := NewReportScheduler(engine, store, "reports", logger)
  if err := s.Start("0 1 1 * *"); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - inventory/reconcile.go: GenerateReport
  - sheet/sheet.go: SaveReport
*/
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridmaster/spares-ledger/inventory"
	"github.com/gridmaster/spares-ledger/sheet"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds one scheduled generation.
const runTimeout = 5 * time.Minute

// ReportScheduler handles automated monthly reporting.
type ReportScheduler struct {
	Engine   *inventory.ReconciliationEngine
	Runs     inventory.ReportRunStore
	Dir      string
	Location *time.Location
	Logger   *zap.Logger
	Now      func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

// NewReportScheduler creates a new scheduler.
func NewReportScheduler(engine *inventory.ReconciliationEngine, runs inventory.ReportRunStore, dir string, logger *zap.Logger) *ReportScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportScheduler{
		Engine:   engine,
		Runs:     runs,
		Dir:      dir,
		Location: time.UTC,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Start registers the job and starts the cron loop.
func (s *ReportScheduler) Start(spec string) error {
	c := cron.New(cron.WithLocation(s.loc()))
	if _, err := c.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("schedule report %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.Logger.Info("report scheduler started", zap.String("schedule", spec), zap.String("dir", s.Dir))

	go s.runScheduled()
	return nil
}

// Stop stops the cron loop and waits for a running job.
func (s *ReportScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Logger.Info("report scheduler stopped")
}

func (s *ReportScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := s.RunPeriod(ctx, s.PreviousMonth()); err != nil {
		s.Logger.Error("scheduled report failed", zap.Error(err))
	}
}

// PreviousMonth is the last complete calendar month in the scheduler's
// location.
func (s *ReportScheduler) PreviousMonth() inventory.Period {
	now := s.Now().In(s.loc())
	return inventory.MonthPeriod(now.Year(), now.Month(), s.loc()).PreviousMonth()
}

// RunPeriod generates and archives the statement for period. It returns a
// nil run when the period was already completed.
func (s *ReportScheduler) RunPeriod(ctx context.Context, period inventory.Period) (*inventory.ReportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, err := s.Runs.IsReportComplete(ctx, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("check report run: %w", err)
	}
	if done {
		s.Logger.Info("report already generated", zap.String("period", period.String()))
		return nil, nil
	}

	run := inventory.ReportRun{
		ID:          uuid.NewString(),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      inventory.RunRunning,
		StartedAt:   s.Now().UTC(),
	}
	if err := s.Runs.SaveReportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record report run: %w", err)
	}

	report, err := s.Engine.GenerateReport(ctx, period)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("generate report: %w", err))
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return s.fail(ctx, run, fmt.Errorf("create report dir: %w", err))
	}
	path := filepath.Join(s.Dir, sheet.FileName(period))
	if err := sheet.SaveReport(path, report); err != nil {
		return s.fail(ctx, run, err)
	}

	completed := s.Now().UTC()
	run.Status = inventory.RunCompleted
	run.Rows = len(report.Rows)
	run.File = path
	run.CompletedAt = &completed
	if err := s.Runs.SaveReportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record report run: %w", err)
	}

	log := s.Logger.With(zap.String("period", period.String()), zap.String("file", path))
	if report.HasAnomalies() {
		log.Warn("report has anomalies", zap.Int("rows", run.Rows))
	} else {
		log.Info("report generated", zap.Int("rows", run.Rows))
	}
	return &run, nil
}

func (s *ReportScheduler) fail(ctx context.Context, run inventory.ReportRun, cause error) (*inventory.ReportRun, error) {
	completed := s.Now().UTC()
	run.Status = inventory.RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &completed
	if err := s.Runs.SaveReportRun(ctx, run); err != nil {
		s.Logger.Error("record failed report run", zap.String("run_id", run.ID), zap.Error(err))
	}
	return &run, cause
}

func (s *ReportScheduler) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
