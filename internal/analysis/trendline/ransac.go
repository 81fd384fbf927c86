package trendline

import (
	"math"

	"chartlens/internal/analysis/extrema"
)

// RNG is the sampling source. *math/rand.Rand satisfies it.
type RNG interface {
	Intn(n int) int
}

type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Line predicts price as Slope*timestamp + Intercept, slope in price per millisecond.
type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

func (l Line) At(ts int64) float64 {
	return l.Slope*float64(ts) + l.Intercept
}

// Result is the best consensus line. Confidence 0 means no sample ever reached minPoints.
type Result struct {
	Points     []PricePoint `json:"points"`
	Line       Line         `json:"equation"`
	Confidence float64      `json:"confidence"`
	Start      PricePoint   `json:"start"`
	End        PricePoint   `json:"end"`
}

// Extend sets the rendered endpoints to the line's values at start and end.
func (r Result) Extend(start, end int64) Result {
	r.Start = PricePoint{Timestamp: start, Price: r.Line.At(start)}
	r.End = PricePoint{Timestamp: end, Price: r.Line.At(end)}
	return r
}

type Options struct {
	MinPoints     int     `json:"min_points" toml:"min_points" yaml:"min_points"`
	Threshold     float64 `json:"threshold" toml:"threshold" yaml:"threshold"`
	MaxIterations int     `json:"max_iterations" toml:"max_iterations" yaml:"max_iterations"`
}

func DefaultOptions() Options {
	return Options{MinPoints: 3, Threshold: 0.01, MaxIterations: 1000}
}

// Normalize fills zero fields from DefaultOptions.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.MinPoints <= 0 {
		o.MinPoints = def.MinPoints
	}
	if o.Threshold <= 0 {
		o.Threshold = def.Threshold
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	return o
}

// Fit runs RANSAC over points. It returns false only when there are fewer than
// minPoints (or two) points; otherwise a possibly degenerate result is returned.
//
// Inlier distance is |price - predicted| / price, normalized by the point's own price.
func Fit(points []PricePoint, minPoints int, threshold float64, maxIterations int, rng RNG) (Result, bool) {
	n := len(points)
	if n < minPoints || n < 2 {
		return Result{}, false
	}

	var (
		bestLine    Line
		bestInliers []PricePoint
	)
	for it := 0; it < maxIterations; it++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}
		line, ok := twoPointLine(points[i], points[j])
		if !ok {
			continue
		}
		inliers := collectInliers(points, line, threshold)
		if len(inliers) <= len(bestInliers) || len(inliers) < minPoints {
			continue
		}
		refit, ok := leastSquares(inliers)
		if !ok {
			continue
		}
		refitInliers := collectInliers(points, refit, threshold)
		if len(refitInliers) > len(bestInliers) {
			bestLine = refit
			bestInliers = refitInliers
		}
	}

	if len(bestInliers) == 0 {
		return Result{}, true
	}
	return Result{
		Points:     bestInliers,
		Line:       bestLine,
		Confidence: float64(len(bestInliers)) / float64(n),
	}, true
}

// FromExtrema converts extrema into fitter input.
func FromExtrema(points []extrema.Point) []PricePoint {
	out := make([]PricePoint, len(points))
	for i, p := range points {
		out[i] = PricePoint{Timestamp: p.Timestamp, Price: p.Value}
	}
	return out
}

func twoPointLine(a, b PricePoint) (Line, bool) {
	if a.Timestamp == b.Timestamp {
		return Line{}, false
	}
	slope := (b.Price - a.Price) / (float64(b.Timestamp) - float64(a.Timestamp))
	return Line{Slope: slope, Intercept: a.Price - slope*float64(a.Timestamp)}, true
}

func collectInliers(points []PricePoint, line Line, threshold float64) []PricePoint {
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		resid := math.Abs(p.Price - line.At(p.Timestamp))
		if p.Price == 0 {
			if resid == 0 {
				out = append(out, p)
			}
			continue
		}
		if resid/math.Abs(p.Price) <= threshold {
			out = append(out, p)
		}
	}
	return out
}

// leastSquares is simple linear regression on timestamps centred at their mean;
// raw epoch-millisecond sums lose precision in nΣx² − (Σx)².
func leastSquares(points []PricePoint) (Line, bool) {
	n := float64(len(points))
	if n < 2 {
		return Line{}, false
	}
	var meanX, meanY float64
	for _, p := range points {
		meanX += float64(p.Timestamp)
		meanY += p.Price
	}
	meanX /= n
	meanY /= n
	var sxy, sxx float64
	for _, p := range points {
		dx := float64(p.Timestamp) - meanX
		sxy += dx * (p.Price - meanY)
		sxx += dx * dx
	}
	if sxx == 0 {
		return Line{}, false
	}
	slope := sxy / sxx
	return Line{Slope: slope, Intercept: meanY - slope*meanX}, true
}
