package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiumaa/kixikila/internal/apperr"
	"github.com/kiumaa/kixikila/internal/auth"
	"github.com/kiumaa/kixikila/internal/ledger"
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/internal/payout"
	"github.com/kiumaa/kixikila/internal/storage"
)

const maxWebhookBody = 1 << 20

// PaymentEvent is sent by the payment rail when a deposit or card-paid
// contribution settles.
type PaymentEvent struct {
	MemberID       string            `json:"memberId"`
	Type           string            `json:"type"`
	GroupID        string            `json:"groupId,omitempty"`
	CycleNumber    int               `json:"cycleNumber,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Status         string            `json:"status"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SettlementEvent is sent by the payout rail as a withdrawal progresses.
type SettlementEvent struct {
	WithdrawalID string `json:"withdrawalId"`
	// Status is one of processing, completed, failed or returned.
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// WebhookHandler receives signed callbacks from the payment and payout rails.
type WebhookHandler struct {
	ledger    *ledger.Ledger
	processor *payout.Processor
	signer    *auth.Signer
}

// NewWebhookHandler creates a WebhookHandler verifying bodies with signer.
func NewWebhookHandler(l *ledger.Ledger, processor *payout.Processor, signer *auth.Signer) *WebhookHandler {
	return &WebhookHandler{ledger: l, processor: processor, signer: signer}
}

// Payments records a settled deposit or external contribution. If the
// client already queued the write offline, the pending record is resolved;
// otherwise it is appended and resolved in one unit of work. Redelivery is
// a no-op.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	var ev PaymentEvent
	if !h.decode(w, r, &ev) {
		return
	}

	tx, err := h.applyPayment(r.Context(), ev)
	if err != nil {
		writeWebhookError(w, "payment", err)
		return
	}

	slog.Info("Payment webhook applied",
		"transaction_id", tx.ID,
		"member_id", tx.MemberID,
		"type", tx.Type,
		"status", tx.Status,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"transactionId": tx.ID,
		"status":        string(tx.Status),
	})
}

func (h *WebhookHandler) applyPayment(ctx context.Context, ev PaymentEvent) (*models.Transaction, error) {
	status := models.TransactionStatus(ev.Status)
	if status != models.StatusCompleted && status != models.StatusFailed {
		return nil, apperr.New(apperr.KindInvalidArgument, "payment status must be completed or failed")
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, h.ledger.Currency()) {
		return nil, apperr.New(apperr.KindInvalidArgument, "payments must use %s", h.ledger.Currency())
	}
	amount, err := ledger.ParsePositiveAmount(ev.Amount)
	if err != nil {
		return nil, err
	}

	d := ledger.Draft{
		MemberID:    ev.MemberID,
		GroupID:     ev.GroupID,
		CycleNumber: ev.CycleNumber,
		Type:        models.TransactionType(ev.Type),
		Amount:      amount,
		Currency:    h.ledger.Currency(),
		Status:      models.StatusPending,
		Metadata:    ev.Metadata,
	}
	switch d.Type {
	case models.TransactionDeposit:
		d.Scope = models.ScopeWallet
	case models.TransactionContribution:
		if ev.GroupID == "" || ev.CycleNumber < 1 {
			return nil, apperr.New(apperr.KindInvalidArgument, "contributions need a group and cycle")
		}
		d.Scope = models.ScopeExternal
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, "payments cannot record %q transactions", ev.Type)
	}

	var out *models.Transaction
	err = h.ledger.Atomically(ctx, func(tx *ledger.Tx) error {
		if d.GroupID != "" {
			if _, err := tx.Store().GetGroup(ctx, d.GroupID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return apperr.Wrap(apperr.KindNotFound, err, "group %s not found", d.GroupID)
				}
				return err
			}
			// Only seated members fund a cycle. Records already accepted
			// were checked when they were first written.
			_, err := tx.Store().GetTransactionByKey(ctx, d.MemberID, ev.IdempotencyKey)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				if _, err := tx.Store().GetActiveMembership(ctx, d.GroupID, d.MemberID); err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return apperr.New(apperr.KindUnauthorized, "member %s is not an active member of group %s", d.MemberID, d.GroupID)
					}
					return err
				}
			case err != nil:
				return err
			}
		}

		rec, err := tx.Append(ctx, d, ev.IdempotencyKey)
		if err != nil {
			return err
		}
		if rec.Status == status {
			out = rec
			return nil
		}
		out, err = tx.MarkStatus(ctx, rec.ID, status)
		return err
	})
	return out, err
}

// Settlements advances a withdrawal reported by the payout rail.
func (h *WebhookHandler) Settlements(w http.ResponseWriter, r *http.Request) {
	var ev SettlementEvent
	if !h.decode(w, r, &ev) {
		return
	}
	if ev.WithdrawalID == "" {
		writeWebhookError(w, "settlement", apperr.New(apperr.KindInvalidArgument, "withdrawal id is required"))
		return
	}

	ctx := r.Context()
	var (
		out *models.WithdrawalRequest
		err error
	)
	switch ev.Status {
	case string(models.WithdrawalProcessing):
		out, err = h.processor.MarkProcessing(ctx, ev.WithdrawalID)
	case string(models.WithdrawalCompleted), string(models.WithdrawalFailed):
		out, err = h.processor.Resolve(ctx, ev.WithdrawalID, models.WithdrawalStatus(ev.Status), ev.Reason)
	case "returned":
		out, err = h.processor.Return(ctx, ev.WithdrawalID, ev.Reason)
	default:
		err = apperr.New(apperr.KindInvalidArgument, "unknown settlement status %q", ev.Status)
	}
	if err != nil {
		writeWebhookError(w, "settlement", err)
		return
	}

	slog.Info("Settlement webhook applied", "withdrawal_id", out.ID, "event", ev.Status, "status", out.Status)
	writeJSON(w, http.StatusOK, map[string]string{
		"withdrawalId": out.ID,
		"status":       string(out.Status),
	})
}

// decode verifies the body signature and unmarshals it into v. It writes
// the error response and returns false on failure.
func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return false
	}
	if err := h.signer.Verify(body, r.Header.Get(auth.SignatureHeader)); err != nil {
		slog.Warn("Webhook rejected", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeWebhookError(w, "webhook", apperr.Wrap(apperr.KindInvalidArgument, err, "malformed body"))
		return false
	}
	return true
}

func writeWebhookError(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	status := httpStatus(kind)
	msg := apperr.MessageOf(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" webhook failed", "error", err)
		msg = "internal error"
	} else {
		slog.Warn(op+" webhook rejected", "kind", kind, "error", msg)
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
