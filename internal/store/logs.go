package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glueco/keywarden/internal/model"
)

// InsertRequestLog appends one usage record. Callers treat failures as
// non-fatal: the proxied response has already been committed by the time
// logging happens.
func (s *Store) InsertRequestLog(ctx context.Context, rl *model.RequestLog) error {
	if rl.ID == "" {
		rl.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rl.CreatedAt.IsZero() {
		rl.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO request_logs
		(id, app_id, permission_id, resource_id, action, model, input_tokens, output_tokens,
		 total_tokens, status_code, error_code, streamed, latency_ms, created_at)
		VALUES
		(:id, :app_id, :permission_id, :resource_id, :action, :model, :input_tokens, :output_tokens,
		 :total_tokens, :status_code, :error_code, :streamed, :latency_ms, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, rl); err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// ListRequestLogs returns an app's most recent log records. Empty appID
// lists across all apps.
func (s *Store) ListRequestLogs(ctx context.Context, appID string, limit int) ([]model.RequestLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var logs []model.RequestLog
	var err error
	if appID == "" {
		err = s.db.SelectContext(ctx, &logs,
			s.q("SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?"), limit)
	} else {
		err = s.db.SelectContext(ctx, &logs,
			s.q("SELECT * FROM request_logs WHERE app_id = ? ORDER BY created_at DESC LIMIT ?"), appID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	return logs, nil
}

// SummarizeUsage aggregates an app's request logs since the given time.
func (s *Store) SummarizeUsage(ctx context.Context, appID string, since time.Time) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	err := s.db.GetContext(ctx, &summary, s.q(
		`SELECT
			COALESCE(MAX(app_id), ?) AS app_id,
			COUNT(*) AS requests,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(CASE WHEN error_code != '' THEN 1 ELSE 0 END), 0) AS errors
		 FROM request_logs WHERE app_id = ? AND created_at >= ?`),
		appID, appID, since)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return &summary, nil
}
