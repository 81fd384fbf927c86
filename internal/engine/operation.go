package engine

import (
	"strings"

	"chartlens/internal/analysis"
)

// Operation is the closed set of analyses the engine can run.
type Operation string

const (
	OpTrendline        Operation = "trendline"
	OpPatterns         Operation = "patterns"
	OpDivergence       Operation = "divergence"
	OpVolumeDivergence Operation = "volume_divergence"
	OpMACDCrossover    Operation = "macd_crossover"
	OpLevels           Operation = "levels"
)

var operations = []Operation{OpTrendline, OpPatterns, OpDivergence, OpVolumeDivergence, OpMACDCrossover, OpLevels}

// Operations lists every supported operation in a stable order.
func Operations() []Operation {
	return append([]Operation(nil), operations...)
}

func (o Operation) Valid() bool {
	for _, op := range operations {
		if op == o {
			return true
		}
	}
	return false
}

// Describe returns a one-line summary used by the API listing and CLI help.
func (o Operation) Describe() string {
	switch o {
	case OpTrendline:
		return "RANSAC support/resistance trend lines over swing extrema"
	case OpPatterns:
		return "candlestick patterns scored against support/resistance"
	case OpDivergence:
		return "regular/hidden divergence between price and an oscillator"
	case OpVolumeDivergence:
		return "higher highs printed on falling volume"
	case OpMACDCrossover:
		return "MACD signal-line and zero-line crossovers"
	case OpLevels:
		return "support/resistance levels from clustered swings"
	default:
		return ""
	}
}

// ParseOperation accepts names case-insensitively, with '-' or '_' separators.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !op.Valid() {
		return "", analysis.Invalid("engine", "unknown operation %q", s)
	}
	return op, nil
}
