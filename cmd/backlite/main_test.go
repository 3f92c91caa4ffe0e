package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/pkg/models"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams("fast=10,slow=30,atr_stop_mult=2.5")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"fast": 10, "slow": 30, "atr_stop_mult": 2.5}, params)

	_, err = parseParams("fast")
	assert.Error(t, err)
	_, err = parseParams("fast=abc")
	assert.Error(t, err)

	params, err = parseParams("")
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestParseRanges(t *testing.T) {
	ranges, err := parseRanges("fast=5:25:5,slow=20;40;60")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10, 15, 20, 25}, ranges["fast"])
	assert.Equal(t, []float64{20, 40, 60}, ranges["slow"])

	_, err = parseRanges("fast=5:25")
	assert.Error(t, err)
	_, err = parseRanges("fast=5:25:0")
	assert.Error(t, err)
}

func TestExpandRangeInclusiveStop(t *testing.T) {
	values, err := expandRange("0.1:0.3:0.1")
	require.NoError(t, err)
	require.Len(t, values, 3, "stop is inclusive despite float accumulation")
	assert.InDelta(t, 0.3, values[2], 1e-9)
}

func TestReadCandleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AAA.csv")
	content := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2024-03-04,100.5,101.2,99.8,100.9,125000",
		"2024-03-05 09:30:00,100.9,102.0,100.1,101.7,98000",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := readCandleFile(path, "AAA")
	require.NoError(t, err)
	require.Len(t, events, 2)

	bar := events[0].(models.Bar)
	assert.Equal(t, "AAA", bar.Symbol)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), bar.Timestamp)
	assert.True(t, bar.Open.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, bar.Volume.Equal(decimal.NewFromInt(125000)))
}

func TestReadCandleFileBadRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AAA.csv")
	require.NoError(t, os.WriteFile(path, []byte("2024-03-04,xx,101,99,100,1\n"), 0o644))
	_, err := readCandleFile(path, "AAA")
	assert.ErrorContains(t, err, "open ")
}

func TestLoadCandlesMissingSymbol(t *testing.T) {
	_, err := loadCandles(t.TempDir(), []string{"NOPE"}, zap.NewNop())
	assert.Error(t, err)
}

func TestExportBacktestCSV(t *testing.T) {
	report := &models.BacktestReport{
		RunID: uuid.New(),
		Performance: models.PerformanceReport{
			TotalReturn: 0.02,
			TradeCount:  1,
		},
		Trades: []models.Fill{{
			Symbol:    "AAA",
			Side:      models.SideBuy,
			Quantity:  decimal.NewFromInt(100),
			Price:     decimal.NewFromInt(2500),
			Timestamp: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeBacktestCSV(&buf, report))
	out := buf.String()
	assert.Contains(t, out, "total_return=0.020000")
	assert.Contains(t, out, "AAA,buy,100,2500")
}

func TestExportUnknownFormat(t *testing.T) {
	err := exportBacktest(&models.BacktestReport{}, filepath.Join(t.TempDir(), "r.out"), "xml")
	assert.Error(t, err)
}
