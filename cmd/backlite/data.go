package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/pkg/models"
)

// loadCandles reads one <symbol>.csv per symbol from dir and concatenates
// the streams. Ordering across symbols is left to the engine.
func loadCandles(dir string, symbols []string, zapLogger *zap.Logger) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		bars, err := readCandleFile(path, symbol)
		if err != nil {
			return nil, err
		}
		zapLogger.Info("candles loaded",
			zap.String("symbol", symbol),
			zap.String("path", path),
			zap.Int("bars", len(bars)))
		events = append(events, bars...)
	}
	if len(events) == 0 {
		return nil, commonerrors.NewValidation("data", "no candles found under %s", dir)
	}
	return events, nil
}

// readCandleFile parses a candle CSV with columns
// timestamp,open,high,low,close,volume. A header row is detected and skipped.
func readCandleFile(path, symbol string) ([]models.MarketEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles for %s: %w", symbol, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	r.TrimLeadingSpace = true

	var bars []models.MarketEvent
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		line++
		if line == 1 && strings.EqualFold(record[0], "timestamp") {
			continue
		}

		bar, err := parseCandle(record, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseCandle(record []string, symbol string) (models.Bar, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return models.Bar{}, fmt.Errorf("timestamp %q: %w", record[0], err)
	}

	fields := make([]decimal.Decimal, 5)
	names := []string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		d, err := decimal.NewFromString(record[i+1])
		if err != nil {
			return models.Bar{}, fmt.Errorf("%s %q: %w", names[i], record[i+1], err)
		}
		fields[i] = d
	}
	return models.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format")
}
