package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/internal/schema"
)

// CSVFeeder reads historical candles from a CSV file with the columns
// timestamp,open,high,low,close,volume. The timestamp is Unix seconds.
type CSVFeeder struct {
	file   *os.File
	reader *csv.Reader
}

// NewCSVFeeder opens the file and consumes the header row.
func NewCSVFeeder(filePath string) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 6
	if _, err := reader.Read(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	return &CSVFeeder{file: file, reader: reader}, nil
}

// Next returns the next candle, or io.EOF when the file is exhausted.
func (f *CSVFeeder) Next() (schema.Candle, error) {
	record, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return schema.Candle{}, io.EOF
		}
		return schema.Candle{}, fmt.Errorf("read csv record: %w", err)
	}

	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return schema.Candle{}, fmt.Errorf("parse timestamp: %w", err)
	}
	prices := make([]decimal.Decimal, 4)
	for i, field := range record[1:5] {
		prices[i], err = decimal.NewFromString(field)
		if err != nil {
			return schema.Candle{}, fmt.Errorf("parse price column %d: %w", i+1, err)
		}
	}
	volume, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return schema.Candle{}, fmt.Errorf("parse volume: %w", err)
	}

	return schema.Candle{
		Time:   time.Unix(ts, 0).UTC(),
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}, nil
}

// Close releases the underlying file.
func (f *CSVFeeder) Close() error {
	return f.file.Close()
}
