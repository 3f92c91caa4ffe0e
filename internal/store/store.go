// Package store persists completed reports to SQLite. Persistence is a
// boundary operation: nothing here runs inside the simulation loop.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

// RunRecord is one persisted backtest run: the headline numbers as columns
// for querying, the full report as a JSON blob.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey"`
	RunID       string    `gorm:"uniqueIndex;size:36"`
	Strategy    string    `gorm:"index;size:64"`
	Symbols     string    `gorm:"size:256"`
	Start       time.Time
	End         time.Time
	TotalReturn float64
	SharpeRatio float64
	MaxDrawdown float64
	TradeCount  int
	Report      string `gorm:"type:text"`
	CreatedAt   time.Time
}

// WalkForwardRecord is one persisted walk-forward search.
type WalkForwardRecord struct {
	ID               uint   `gorm:"primaryKey"`
	Strategy         string `gorm:"index;size:64"`
	Symbols          string `gorm:"size:256"`
	Windows          int
	ParameterSets    int
	OOSPerformance   float64
	OverfittingRatio float64
	RobustnessScore  float64
	Report           string `gorm:"type:text"`
	CreatedAt        time.Time
}

// ReportStore wraps the SQLite database holding run history.
type ReportStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the report database and migrates its
// schema.
func Open(cfg config.StoreConfig, logger *zap.Logger) (*ReportStore, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open report store %q: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &WalkForwardRecord{}); err != nil {
		return nil, fmt.Errorf("migrate report store: %w", err)
	}
	logger.Info("report store opened", zap.String("path", cfg.Path))
	return &ReportStore{db: db, logger: logger}, nil
}

// SaveBacktest persists one completed run.
func (s *ReportStore) SaveBacktest(report *models.BacktestReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	record := RunRecord{
		RunID:       report.RunID.String(),
		Strategy:    report.Strategy,
		Symbols:     strings.Join(report.Symbols, ","),
		Start:       report.Start,
		End:         report.End,
		TotalReturn: report.Performance.TotalReturn,
		SharpeRatio: report.Performance.SharpeRatio,
		MaxDrawdown: report.Performance.MaxDrawdown,
		TradeCount:  report.Performance.TradeCount,
		Report:      string(blob),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("persist run %s: %w", report.RunID, err)
	}
	return nil
}

// SaveWalkForward persists one completed search.
func (s *ReportStore) SaveWalkForward(report *models.WalkForwardReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode walk-forward report: %w", err)
	}
	record := WalkForwardRecord{
		Strategy:         report.Strategy,
		Symbols:          strings.Join(report.Symbols, ","),
		Windows:          len(report.Windows),
		ParameterSets:    len(report.ParameterSets),
		OOSPerformance:   report.OOSPerformance,
		OverfittingRatio: report.OverfittingRatio,
		RobustnessScore:  report.RobustnessScore,
		Report:           string(blob),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("persist walk-forward report: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ReportStore) ListRuns(limit int) ([]RunRecord, error) {
	var records []RunRecord
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// GetRun loads the full report for one run ID.
func (s *ReportStore) GetRun(runID string) (*models.BacktestReport, error) {
	var record RunRecord
	if err := s.db.Where("run_id = ?", runID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var report models.BacktestReport
	if err := json.Unmarshal([]byte(record.Report), &report); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &report, nil
}

// Close releases the underlying database handle.
func (s *ReportStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
