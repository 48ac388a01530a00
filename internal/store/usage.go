// ABOUTME: Aggregated tool usage statistics over the audit log
// ABOUTME: Backs `snow-mcp audit --stats`

package store

import (
	"context"
	"fmt"
	"time"
)

// ToolStats summarizes calls to one tool.
type ToolStats struct {
	Tool          string
	Calls         int64
	Failures      int64
	AvgDurationMS float64
	LastCalledAt  time.Time
}

// StatsFilter bounds the aggregation window.
type StatsFilter struct {
	Since *time.Time
	Until *time.Time
}

// GetToolStats returns per-tool statistics ordered by call count.
func (s *SQLiteStore) GetToolStats(ctx context.Context, filter StatsFilter) ([]ToolStats, error) {
	query := `
		SELECT
			tool,
			COUNT(*) AS calls,
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) AS failures,
			COALESCE(AVG(duration_ms), 0) AS avg_duration,
			MAX(ts) AS last_called
		FROM audit_log
		WHERE 1=1
	`
	args := []any{}

	if filter.Since != nil {
		query += " AND ts >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		query += " AND ts < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}
	query += " GROUP BY tool ORDER BY calls DESC, tool ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tool stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := []ToolStats{}
	for rows.Next() {
		var st ToolStats
		var last string
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Failures, &st.AvgDurationMS, &last); err != nil {
			return nil, fmt.Errorf("scanning tool stats row: %w", err)
		}
		st.LastCalledAt, err = time.Parse(time.RFC3339, last)
		if err != nil {
			return nil, fmt.Errorf("parsing last_called: %w", err)
		}
		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool stats rows: %w", err)
	}
	return stats, nil
}
