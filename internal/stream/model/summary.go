package model

import (
	"context"
	"time"
)

// Summary is the record kept for a finalized streaming session.
type Summary struct {
	SessionID     string        `json:"session_id,omitempty"`
	UserID        int64         `json:"user_id"`
	ChatID        int64         `json:"chat_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	TotalMessages int           `json:"total_messages"`
	ToolsUsed     int           `json:"tools_used"`
	TotalCost     float64       `json:"total_cost"`
	IsActive      bool          `json:"is_active"`
}

type SummaryRepository interface {
	// SaveSummary records a finalized session for the summary's user.
	SaveSummary(ctx context.Context, summary Summary) error

	// RecentSummaries returns up to limit summaries for a user, newest first.
	RecentSummaries(ctx context.Context, userID int64, limit int) ([]Summary, error)

	// ClearSummaries removes every stored summary of a user.
	ClearSummaries(ctx context.Context, userID int64) error
}
