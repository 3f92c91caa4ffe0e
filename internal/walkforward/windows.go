// Package walkforward validates strategy parameters out of sample: it rolls
// train/test(/OOS) windows through the date range, searches the parameter
// grid per window, and scores robustness of the result.
package walkforward

import (
	"time"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

func parseWindowKind(s string) models.WindowKind {
	if s == "anchored" {
		return models.WindowAnchored
	}
	return models.WindowRolling
}

// GenerateWindows slices [start, end] into walk-forward windows. Rolling mode
// slides train and test forward together; anchored mode keeps train_start
// pinned and only grows the train span. The step between windows defaults to
// the test length, which makes consecutive test periods abut without
// overlapping.
func GenerateWindows(cfg config.WalkForwardConfig, start, end time.Time) ([]models.WalkForwardWindow, error) {
	if cfg.TrainDays <= 0 || cfg.TestDays <= 0 {
		return nil, commonerrors.NewValidation("walk_forward", "train_days and test_days must be positive")
	}
	if !start.Before(end) {
		return nil, commonerrors.NewValidation("walk_forward", "start %s not before end %s", start, end)
	}

	kind := parseWindowKind(cfg.Mode)
	train := time.Duration(cfg.TrainDays) * 24 * time.Hour
	test := time.Duration(cfg.TestDays) * 24 * time.Hour
	oos := time.Duration(cfg.OOSDays) * 24 * time.Hour
	step := time.Duration(cfg.StepDays) * 24 * time.Hour
	if step <= 0 {
		step = test
	}

	var windows []models.WalkForwardWindow
	for i := 0; ; i++ {
		trainStart := start
		if kind == models.WindowRolling {
			trainStart = start.Add(time.Duration(i) * step)
		}
		trainEnd := trainStart.Add(train)
		if kind == models.WindowAnchored {
			trainEnd = start.Add(train).Add(time.Duration(i) * step)
		}
		testEnd := trainEnd.Add(test)

		last := testEnd
		if cfg.OOSDays > 0 {
			last = testEnd.Add(oos)
		}
		if last.After(end) {
			break
		}

		w := models.WalkForwardWindow{
			Index:      i,
			Kind:       kind,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		}
		if cfg.OOSDays > 0 {
			w.OOSStart = testEnd
			w.OOSEnd = testEnd.Add(oos)
		}
		if err := w.Validate(); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}

	if len(windows) == 0 {
		return nil, commonerrors.NewValidation("walk_forward",
			"date range %s..%s too short for train=%dd test=%dd", start, end, cfg.TrainDays, cfg.TestDays)
	}
	return windows, nil
}
