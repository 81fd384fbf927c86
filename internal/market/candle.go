package market

import (
	"fmt"
	"math"
)

// Candle 单根 OHLCV K 线，Timestamp 为开盘时间（毫秒，UTC）。
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Point 任意标量时间序列上的一个采样点。
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// IndicatorSeries 按名称标注的指标序列，与 K 线按时间戳对齐。
type IndicatorSeries struct {
	Name   string  `json:"name"`
	Values []Point `json:"values"`
}

// Annotated 是行情源返回的 K 线以及可选的预计算指标。
type Annotated struct {
	Candles    []Candle          `json:"candles"`
	Indicators []IndicatorSeries `json:"indicators,omitempty"`
}

// Field selects which candle value a derived series is built from.
type Field int

const (
	FieldClose Field = iota
	FieldHigh
	FieldLow
	FieldVolume
)

// Series projects one candle field into a Point series.
func Series(candles []Candle, field Field) []Point {
	out := make([]Point, len(candles))
	for i, c := range candles {
		v := c.Close
		switch field {
		case FieldHigh:
			v = c.High
		case FieldLow:
			v = c.Low
		case FieldVolume:
			v = c.Volume
		}
		out[i] = Point{Timestamp: c.Timestamp, Value: v}
	}
	return out
}

// AverageVolume returns the mean volume, 0 for an empty slice.
func AverageVolume(candles []Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// ValidateCandles rejects non-finite values and timestamps that are not strictly increasing.
func ValidateCandles(candles []Candle) error {
	for i, c := range candles {
		if !IsFinite(c.Open) || !IsFinite(c.High) || !IsFinite(c.Low) || !IsFinite(c.Close) || !IsFinite(c.Volume) {
			return fmt.Errorf("candle %d (ts=%d) has non-finite values", i, c.Timestamp)
		}
		if i > 0 && c.Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("candle %d (ts=%d) is not after previous (ts=%d)", i, c.Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

// ValidatePoints applies the same ordering and finiteness rules to a scalar series.
func ValidatePoints(points []Point) error {
	for i, p := range points {
		if !IsFinite(p.Value) {
			return fmt.Errorf("point %d (ts=%d) is not finite", i, p.Timestamp)
		}
		if i > 0 && p.Timestamp <= points[i-1].Timestamp {
			return fmt.Errorf("point %d (ts=%d) is not after previous (ts=%d)", i, p.Timestamp, points[i-1].Timestamp)
		}
	}
	return nil
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
