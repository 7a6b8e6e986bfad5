// Package notify delivers engine events to members. Delivery is fire and
// forget: the engine never reads anything back.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Type names an event.
type Type string

const (
	TypeDrawResult              Type = "draw_result"
	TypeWithdrawalStatusChanged Type = "withdrawal_status_changed"
)

// Notification is one event addressed to one or more members.
type Notification struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  int64           `json:"created_at"`
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DrawResult is the payload of a draw_result notification.
type DrawResult struct {
	GroupID      string               `json:"group_id"`
	GroupName    string               `json:"group_name"`
	CycleNumber  int                  `json:"cycle_number"`
	WinnerID     string               `json:"winner_id"`
	PrizeAmount  string               `json:"prize_amount"`
	Currency     string               `json:"currency"`
	Participants []ParticipantSummary `json:"participants"`
	Completed    bool                 `json:"group_completed"`
}

// ParticipantSummary is what one member paid towards the cycle.
type ParticipantSummary struct {
	MemberID string `json:"member_id"`
	Paid     string `json:"paid"`
}

// WithdrawalStatus is the payload of a withdrawal_status_changed notification.
type WithdrawalStatus struct {
	WithdrawalID string `json:"withdrawal_id"`
	MemberID     string `json:"member_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// LogDispatcher writes notifications to a structured logger.
type LogDispatcher struct {
	Logger *slog.Logger
}

// Dispatch logs n.
func (d LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Notification dispatched",
		"notification_id", n.ID,
		"type", n.Type,
		"recipients", n.Recipients,
		"payload", string(n.Payload),
	)
	return nil
}
