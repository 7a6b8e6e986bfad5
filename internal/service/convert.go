package service

import (
	"github.com/kiumaa/kixikila/internal/models"
	"github.com/kiumaa/kixikila/pkg/api"
)

func toAPIGroup(g *models.Group) *api.Group {
	return &api.Group{
		ID:                  g.ID,
		Name:                g.Name,
		Slug:                g.Slug,
		ContributionAmount:  g.ContributionAmount.String(),
		Currency:            g.Currency,
		Frequency:           string(g.Frequency),
		MaxMembers:          g.MaxMembers,
		Type:                string(g.Type),
		CurrentCycle:        g.CurrentCycle,
		TotalCycles:         g.TotalCycles,
		Status:              string(g.Status),
		RequiresPrepayment:  g.RequiresPrepayment,
		RequiresFullFunding: g.RequiresFullFunding,
		CreatedBy:           g.CreatedBy,
		CreatedAt:           g.CreatedAt,
		UpdatedAt:           g.UpdatedAt,
	}
}

func toAPIMembership(m *models.Membership) *api.Membership {
	return &api.Membership{
		ID:           m.ID,
		GroupID:      m.GroupID,
		MemberID:     m.MemberID,
		Role:         string(m.Role),
		Status:       string(m.Status),
		JoinPosition: m.JoinPosition,
		JoinedAt:     m.JoinedAt,
	}
}

func toAPICycle(c *models.Cycle) *api.Cycle {
	return &api.Cycle{
		ID:                  c.ID,
		GroupID:             c.GroupID,
		CycleNumber:         c.Number,
		WinnerID:            c.WinnerID,
		PrizeAmount:         c.PrizeAmount.String(),
		Participants:        c.Eligible,
		Method:              string(c.Method),
		PayoutTransactionID: c.PayoutTransactionID,
		DrawnBy:             c.DrawnBy,
		DrawnAt:             c.DrawnAt,
	}
}

func toAPITransaction(t *models.Transaction) *api.Transaction {
	return &api.Transaction{
		ID:             t.ID,
		MemberID:       t.MemberID,
		GroupID:        t.GroupID,
		CycleNumber:    t.CycleNumber,
		Type:           string(t.Type),
		Scope:          string(t.Scope),
		Amount:         t.Amount.String(),
		Currency:       t.Currency,
		Status:         string(t.Status),
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		Metadata:       t.Metadata,
	}
}

func toAPIWithdrawal(w *models.WithdrawalRequest) *api.Withdrawal {
	return &api.Withdrawal{
		ID:                 w.ID,
		MemberID:           w.MemberID,
		Amount:             w.Amount.String(),
		Currency:           w.Currency,
		DestinationAccount: w.DestinationAccount,
		PayoutAccountID:    w.PayoutAccountID,
		Status:             string(w.Status),
		TransactionID:      w.TransactionID,
		FailureReason:      w.FailureReason,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
}
