package backtest

import (
	"fmt"
	"time"

	"hermes/internal/frame"
)

// BroadcastSignals runs a strategy at a coarser analysis timeframe and
// broadcasts its signal and indicator columns back onto the minute frame.
//
// An analysis bar labeled 10:00 aggregates trades through 10:59, so its
// signal only exists once that bar closes. Every broadcast column is
// shifted by one analysis bar before the as-of join, making the signal
// visible to minute rows no earlier than the start of the following bar.
func BroadcastSignals(minute *frame.Frame, strat Strategy, analysisWidth time.Duration) (*frame.Frame, error) {
	analysis := minute.ResampleOHLCV(analysisWidth)

	result, err := strat.GenerateSignals(analysis)
	if err != nil {
		return nil, fmt.Errorf("generate signals: %w", err)
	}
	if !result.HasColumn("signal") {
		return nil, ErrMissingSignal
	}

	cols := make([]frame.JoinColumn, 0, len(result.ColumnNames()))
	for _, name := range result.ColumnNames() {
		s, _ := result.Col(name)
		result.SetColumn(name, s.Shift(1))
		cols = append(cols, frame.JoinColumn{From: name, To: name})
	}

	out := minute.Clone()
	out.SortByTime()
	return out.JoinAsof(result, cols), nil
}
