package sink

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"hermes/pkg/types"
)

// Row is the on-disk parquet schema for one candle. The symbol rides along
// in every row so a file is self-describing when copied out of its keyed
// location; the durable frame cache reuses the same schema for multi-symbol
// payloads. Timestamps are stored as epoch seconds of the naive wall-clock
// reading.
type Row struct {
	Symbol    string  `parquet:"symbol,dict,zstd"`
	Timestamp int64   `parquet:"timestamp,zstd"`
	Open      float64 `parquet:"open,zstd"`
	High      float64 `parquet:"high,zstd"`
	Low       float64 `parquet:"low,zstd"`
	Close     float64 `parquet:"close,zstd"`
	Volume    float64 `parquet:"volume,zstd"`
	OI        float64 `parquet:"oi,zstd"`
}

// RowsFromCandles converts candles to storage rows under one symbol.
func RowsFromCandles(symbol string, candles []types.Candle) []Row {
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{
			Symbol:    symbol,
			Timestamp: c.Timestamp.Unix(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			OI:        c.OI,
		}
	}
	return rows
}

// CandlesFromRows converts storage rows back to candles, dropping the
// symbol column.
func CandlesFromRows(rows []Row) []types.Candle {
	candles := make([]types.Candle, len(rows))
	for i, r := range rows {
		candles[i] = types.Candle{
			Timestamp: time.Unix(r.Timestamp, 0).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			OI:        r.OI,
		}
	}
	return candles
}

// EncodeRows serializes rows to a zstd-compressed parquet payload.
func EncodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows parses a parquet payload. The column codec is read from the
// file footer, so payloads written with other compressors load fine.
func DecodeRows(data []byte) ([]Row, error) {
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
