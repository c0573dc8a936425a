package source

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"hermes/pkg/types"
)

// LoadInstruments reads a Kite instrument dump CSV and returns the equity
// rows. The dump has a header row; columns are located by name so the file
// survives upstream column reordering.
func LoadInstruments(path string) ([]types.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read instrument header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, want := range []string{"instrument_token", "tradingsymbol", "instrument_type"} {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("instrument file missing column %q", want)
		}
	}

	field := func(row []string, name string) string {
		i := idx[name]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var out []types.Instrument
	line := 1
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		line++
		if field(row, "instrument_type") != "EQ" {
			continue
		}
		token, err := strconv.ParseInt(field(row, "instrument_token"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("instrument file line %d: bad token: %w", line, err)
		}
		out = append(out, types.Instrument{
			Token:    token,
			Symbol:   field(row, "tradingsymbol"),
			Name:     field(row, "name"),
			Exchange: field(row, "exchange"),
			Type:     "EQ",
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("instrument file %s has no equity rows", path)
	}
	return out, nil
}
