package database

import "context"

// addIndicatorColumn 为 analysis_signals 添加 indicator 列（幂等）。
func (s *SignalLog) addIndicatorColumn(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return nil
	}
	queries := []string{
		"ALTER TABLE analysis_signals ADD COLUMN indicator TEXT",
		"CREATE INDEX IF NOT EXISTS idx_analysis_runs_symbol ON analysis_runs (symbol, generated_at)",
	}
	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			// 忽略已存在错误
			continue
		}
	}
	return nil
}
