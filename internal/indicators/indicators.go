// Package indicators computes overlay series from the candle store for
// display alongside the price series.
package indicators

import (
	"chart-core/internal/chart"
)

// SMA calculates the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// SMASeries returns the moving average aligned to the input: entry i is
// the SMA ending at i, zero during the warmup prefix.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI computes a basic Relative Strength Index without smoothing.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// Closes extracts the close-price series from the candles.
func Closes(candles []chart.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Price
	}
	return out
}

// Snapshot is the latest value of each computed indicator.
type Snapshot struct {
	SMAShort float64 `json:"sma_short"`
	SMALong  float64 `json:"sma_long"`
	RSI      float64 `json:"rsi"`
}

// Compute evaluates the standard indicator set over a candle series.
func Compute(candles []chart.Candle, shortPeriod, longPeriod, rsiPeriod int) Snapshot {
	closes := Closes(candles)
	return Snapshot{
		SMAShort: SMA(closes, shortPeriod),
		SMALong:  SMA(closes, longPeriod),
		RSI:      RSI(closes, rsiPeriod),
	}
}
