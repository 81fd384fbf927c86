package database

import (
	"database/sql"
)

func ptrFloat(v sql.NullFloat64) *float64 {
	if v.Valid {
		return &v.Float64
	}
	return nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
