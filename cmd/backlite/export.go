package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/pkg/models"
)

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

func closeOutput(w io.WriteCloser) {
	if w != os.Stdout {
		w.Close()
	}
}

func exportBacktest(report *models.BacktestReport, path, format string) error {
	w, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeOutput(w)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(report)
	case "csv":
		return writeBacktestCSV(w, report)
	default:
		return commonerrors.NewValidation("format", "unknown format %q (want json, csv or yaml)", format)
	}
}

func exportWalkForward(report *models.WalkForwardReport, path, format string) error {
	w, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeOutput(w)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(report)
	case "csv":
		return writeWalkForwardCSV(w, report)
	default:
		return commonerrors.NewValidation("format", "unknown format %q (want json, csv or yaml)", format)
	}
}

// writeBacktestCSV emits the trade list, the shape spreadsheet users expect.
// Headline performance goes into a comment-style first row.
func writeBacktestCSV(w io.Writer, report *models.BacktestReport) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	summary := fmt.Sprintf("total_return=%.6f sharpe=%.4f max_drawdown=%.2f%% trades=%d",
		report.Performance.TotalReturn,
		report.Performance.SharpeRatio,
		report.Performance.MaxDrawdown,
		report.Performance.TradeCount)
	if err := cw.Write([]string{"# " + summary}); err != nil {
		return err
	}

	header := []string{"timestamp", "symbol", "side", "quantity", "price", "fees", "slippage", "status"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, trade := range report.Trades {
		row := []string{
			trade.Timestamp.UTC().Format(time.RFC3339Nano),
			trade.Symbol,
			trade.Side.String(),
			trade.Quantity.String(),
			trade.Price.String(),
			trade.Fees.String(),
			trade.Slippage.String(),
			trade.Status.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeWalkForwardCSV(w io.Writer, report *models.WalkForwardReport) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"params", "train_perf", "test_perf", "oos_perf", "failed"}); err != nil {
		return err
	}
	for _, set := range report.ParameterSets {
		params, err := json.Marshal(set.Params)
		if err != nil {
			return err
		}
		row := []string{
			string(params),
			strconv.FormatFloat(set.TrainPerf, 'f', -1, 64),
			strconv.FormatFloat(set.TestPerf, 'f', -1, 64),
			strconv.FormatFloat(set.OOSPerf, 'f', -1, 64),
			strconv.FormatBool(set.Failed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}
