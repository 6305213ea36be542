package loans

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/money"
	"github.com/kopa-credit/kopa/internal/schedule"
)

// Handler exposes loan scheduling HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a loan HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type approveRequest struct {
	LoanID           string `json:"loan_id"`
	OwnerID          string `json:"owner_id"`
	Principal        string `json:"principal"` // major units, e.g. "1200.00"
	TermMonths       int    `json:"term_months"`
	FirstDue         string `json:"first_due"` // YYYY-MM-DD
	Timezone         string `json:"timezone"`
	GraceDays        int    `json:"grace_days"`
	DailyPenaltyRate string `json:"daily_penalty_rate"` // percent, e.g. "0.1"
}

type obligationResponse struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
	Amount   string `json:"amount"`
	DueDate  string `json:"due_date"`
	Status   string `json:"status"`
}

// Approve generates and persists the installment schedule for an approved loan.
func (h *Handler) Approve(c *fiber.Ctx) error {
	var req approveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	principalDec, err := decimal.NewFromString(req.Principal)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "principal: "+err.Error())
	}
	principal, err := money.FromDecimal(principalDec)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	rate := decimal.Zero
	if req.DailyPenaltyRate != "" {
		rate, err = decimal.NewFromString(req.DailyPenaltyRate)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "daily_penalty_rate: "+err.Error())
		}
	}

	firstDue, err := time.Parse("2006-01-02", req.FirstDue)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "first_due: "+err.Error())
	}

	approved, err := h.service.Approve(c.UserContext(), ApproveInput{
		LoanID:           req.LoanID,
		OwnerID:          req.OwnerID,
		Principal:        principal,
		TermMonths:       req.TermMonths,
		FirstDue:         firstDue,
		Timezone:         req.Timezone,
		GraceDays:        req.GraceDays,
		DailyPenaltyRate: rate,
	})
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidParams) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"loan_id":   approved.LoanID,
		"wallet_id": approved.WalletID,
		"schedule":  toScheduleResponse(approved.Schedule),
	})
}

// Schedule returns the loan's obligation schedule.
func (h *Handler) Schedule(c *fiber.Ctx) error {
	obs, err := h.service.Schedule(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if len(obs) == 0 {
		return fiber.NewError(http.StatusNotFound, "loan schedule not found")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"loan_id":  c.Params("loanId"),
		"schedule": toScheduleResponse(obs),
	})
}

// Cancel cancels the loan's unpaid obligations.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	cancelled, err := h.service.Cancel(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"loan_id":   c.Params("loanId"),
		"cancelled": cancelled,
	})
}

func toScheduleResponse(obs []ledger.Obligation) []obligationResponse {
	out := make([]obligationResponse, 0, len(obs))
	for _, ob := range obs {
		out = append(out, obligationResponse{
			ID:       ob.ID,
			Sequence: ob.Sequence,
			Amount:   ob.Amount.String(),
			DueDate:  ob.DueDate.Format("2006-01-02"),
			Status:   ob.Status,
		})
	}
	return out
}
