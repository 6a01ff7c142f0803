// Package service holds application services that sit between the HTTP
// handlers and the domain ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// maxRedeemPrice is the sell limit used for resolved positions. The CLOB
// rejects limit prices at or above 1.0, and a winning position settles at
// exactly 1.0, so the sweep sells just below settlement value.
const maxRedeemPrice = 0.99

// RedeemSummary reports the outcome of a redeem sweep.
type RedeemSummary struct {
	Eligible int      `json:"eligible"`
	Redeemed int      `json:"redeemed"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// RedeemService liquidates redeemable positions. A position on a resolved
// market trades at its settlement value, so selling the full size at (or
// just below) the current price is equivalent to claiming winnings.
type RedeemService struct {
	address   string
	positions domain.PositionSource
	exec      domain.OrderExecutor
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewRedeemService creates a RedeemService for the given wallet address.
func NewRedeemService(
	address string,
	positions domain.PositionSource,
	exec domain.OrderExecutor,
	audit domain.AuditStore,
	logger *slog.Logger,
) *RedeemService {
	return &RedeemService{
		address:   address,
		positions: positions,
		exec:      exec,
		audit:     audit,
		logger:    logger.With(slog.String("component", "redeem_service")),
	}
}

// RedeemAll sweeps the wallet's positions and sells every redeemable one at
// its current price. Individual failures are collected rather than aborting
// the sweep.
func (s *RedeemService) RedeemAll(ctx context.Context) (RedeemSummary, error) {
	positions, err := s.positions.GetPositions(ctx, s.address)
	if err != nil {
		return RedeemSummary{}, fmt.Errorf("service: fetch positions: %w", err)
	}

	var summary RedeemSummary
	for _, pos := range positions {
		if !pos.Redeemable || pos.Size <= 0 {
			continue
		}
		// A position that resolved to zero has nothing to claim.
		if pos.CurPrice <= 0 {
			continue
		}
		summary.Eligible++

		price := pos.CurPrice
		if price > maxRedeemPrice {
			price = maxRedeemPrice
		}
		notional := pos.Size * price

		receipt, err := s.exec.SubmitFillOrKill(ctx, pos.Asset, domain.DirectionSell, notional, &price)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", pos.Asset, err))
			s.logger.WarnContext(ctx, "redeem failed",
				slog.String("asset", pos.Asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !receipt.Success {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", pos.Asset, receipt.ErrorMsg))
			s.logger.WarnContext(ctx, "redeem rejected",
				slog.String("asset", pos.Asset),
				slog.String("reason", receipt.ErrorMsg),
			)
			continue
		}

		summary.Redeemed++
		s.logger.InfoContext(ctx, "position redeemed",
			slog.String("asset", pos.Asset),
			slog.String("title", pos.Title),
			slog.Float64("size", pos.Size),
			slog.Float64("price", price),
		)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "copier.redeem", map[string]any{
			"eligible": summary.Eligible,
			"redeemed": summary.Redeemed,
			"failed":   summary.Failed,
			"errors":   strings.Join(summary.Errors, "; "),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return summary, nil
}
