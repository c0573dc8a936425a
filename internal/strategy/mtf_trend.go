package strategy

import (
	"fmt"
	"time"

	"hermes/internal/frame"
)

// MTFTrendFollowingStrategy gates minute RSI dip-buying on a daily trend
// filter. It resamples the minute frame to daily bars inside
// GenerateSignals, marks the trend bullish while the daily SMA 50 sits
// above the SMA 200, and joins that flag back onto the minute rows with a
// backward as-of match. Entries need an oversold minute RSI and a bullish
// daily trend; overbought RSI or losing the trend flattens.
//
// Vector only: the daily resample needs the whole frame, so there is no
// event mode.
type MTFTrendFollowingStrategy struct {
	trendFast  int
	trendSlow  int
	rsiPeriod  int
	oversold   float64
	overbought float64
}

// NewMTFTrendFollowingStrategy builds the strategy. Params: fast_period
// (50), slow_period (200), rsi_period (14), oversold (30), overbought (70).
func NewMTFTrendFollowingStrategy(params map[string]float64) (*MTFTrendFollowingStrategy, error) {
	fast := int(param(params, "fast_period", 50))
	slow := int(param(params, "slow_period", 200))
	rsiPeriod := int(param(params, "rsi_period", 14))
	oversold := param(params, "oversold", 30)
	overbought := param(params, "overbought", 70)
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("trend periods must be positive, got fast=%d slow=%d", fast, slow)
	}
	if fast > slow {
		return nil, fmt.Errorf("fast period %d exceeds slow period %d", fast, slow)
	}
	if rsiPeriod < 2 {
		return nil, fmt.Errorf("rsi period must be at least 2, got %d", rsiPeriod)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("oversold %v must be below overbought %v", oversold, overbought)
	}
	return &MTFTrendFollowingStrategy{
		trendFast:  fast,
		trendSlow:  slow,
		rsiPeriod:  rsiPeriod,
		oversold:   oversold,
		overbought: overbought,
	}, nil
}

func (s *MTFTrendFollowingStrategy) Name() string { return "MTFTrendFollowingStrategy" }

// GenerateSignals appends rsi, bullish_trend_htf and the latched signal
// column.
func (s *MTFTrendFollowingStrategy) GenerateSignals(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	out.SortByTime()

	// Daily trend gate. The daily bar labeled by its window start is
	// visible to minute rows from that start.
	daily := out.ResampleOHLCV(24 * time.Hour)
	smaFast := frame.RollingMean(daily.Close, s.trendFast)
	smaSlow := frame.RollingMean(daily.Close, s.trendSlow)
	bullish := frame.NullSeries(daily.Len())
	bullish.Kind = frame.Bool
	for i := 0; i < daily.Len(); i++ {
		fv, fok := smaFast.At(i)
		sv, sok := smaSlow.At(i)
		if !fok || !sok {
			continue
		}
		bullish.Valid[i] = true
		if fv > sv {
			bullish.Values[i] = 1
		}
	}
	daily.SetColumn("bullish_trend", bullish)

	joined := out.JoinAsof(daily, []frame.JoinColumn{
		{From: "bullish_trend", To: "bullish_trend_htf"},
	})

	rsi := rsiSeries(joined.Close, s.rsiPeriod)
	trend, _ := joined.Col("bullish_trend_htf")

	trigger := frame.NullSeries(joined.Len())
	trigger.Kind = frame.Int
	for i := 0; i < joined.Len(); i++ {
		tv, tok := trend.At(i)
		switch {
		case rsi.Values[i] < s.oversold && tok && tv == 1:
			trigger.Values[i] = 1
			trigger.Valid[i] = true
		case rsi.Values[i] > s.overbought, tok && tv == 0:
			trigger.Values[i] = 0
			trigger.Valid[i] = true
		}
	}

	joined.SetColumn("rsi", rsi)
	joined.SetColumn("signal", latch(trigger))
	return joined, nil
}
