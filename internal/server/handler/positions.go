package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// PositionHandler serves the controlled wallet's current holdings.
type PositionHandler struct {
	address   string
	positions domain.PositionSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler bound to the controlled wallet.
func NewPositionHandler(address string, positions domain.PositionSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		address:   address,
		positions: positions,
		logger:    logger,
	}
}

// positionResponse is the wire form of one holding.
type positionResponse struct {
	Asset      string  `json:"asset"`
	Size       float64 `json:"size"`
	AvgPrice   float64 `json:"avg_price"`
	CurPrice   float64 `json:"cur_price"`
	Title      string  `json:"title,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	Redeemable bool    `json:"redeemable"`
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
}

// ListPositions returns the controlled wallet's holdings as reported by the
// venue.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.GetPositions(r.Context(), h.address)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	resp := listPositionsResponse{Positions: make([]positionResponse, 0, len(positions))}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, positionResponse{
			Asset:      p.Asset,
			Size:       p.Size,
			AvgPrice:   p.AvgPrice,
			CurPrice:   p.CurPrice,
			Title:      p.Title,
			Outcome:    p.Outcome,
			Redeemable: p.Redeemable,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
