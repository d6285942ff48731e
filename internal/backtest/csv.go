package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"perpbot/internal/domain"
)

var csvHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteCandlesCSV writes candles to a CSV file, one row per candle.
func WriteCandlesCSV(candles []*domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create candle file '%s': %w", filename, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write(csvHeader)
	for _, c := range candles {
		writer.Write([]string{
			c.OpenTime.Format(time.RFC3339),
			c.CloseTime.Format(time.RFC3339),
			c.Symbol,
			c.Interval,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadCandlesCSV loads candles from a CSV file written by
// WriteCandlesCSV. Historical candles are always final.
func ReadCandlesCSV(filename string) ([]*domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file '%s': %w", filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read candle file header: %w", err)
	}
	if len(header) < len(csvHeader) {
		return nil, fmt.Errorf("unexpected candle file header: %v", header)
	}

	var candles []*domain.Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candle record at line %d: %w", line, err)
		}

		candle, err := parseCandleRecord(record)
		if err != nil {
			return nil, fmt.Errorf("invalid candle record at line %d: %w", line, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandleRecord(record []string) (*domain.Candle, error) {
	if len(record) < len(csvHeader) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(record))
	}

	openTime, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return nil, fmt.Errorf("parsing open_time '%s': %w", record[0], err)
	}
	closeTime, err := time.Parse(time.RFC3339, record[1])
	if err != nil {
		return nil, fmt.Errorf("parsing close_time '%s': %w", record[1], err)
	}

	prices := make([]float64, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		prices[i], err = strconv.ParseFloat(record[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", name, record[4+i], err)
		}
	}

	return &domain.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    record[2],
		Interval:  record[3],
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   true,
	}, nil
}
