package matcher

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Amount    string `json:"amount"` // major units, e.g. "150.00"
	Origin    string `json:"origin"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

type withdrawRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

type transactionResponse struct {
	ID           string `json:"id"`
	WalletID     string `json:"wallet_id"`
	Amount       string `json:"amount"`
	Kind         string `json:"kind"`
	ObligationID string `json:"obligation_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type settlementResponse struct {
	ObligationID  string `json:"obligation_id"`
	Sequence      int    `json:"sequence"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// Deposit records an incoming credit and reports the settlements it funded.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Deposit(c.UserContext(), DepositInput{
		WalletID:  c.Params("walletId"),
		Amount:    amount,
		Origin:    req.Origin,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		return mapError(err)
	}

	settled := make([]settlementResponse, 0, len(res.Settled))
	for _, s := range res.Settled {
		settled = append(settled, settlementResponse{
			ObligationID:  s.Obligation.ID,
			Sequence:      s.Obligation.Sequence,
			Amount:        s.Obligation.Amount.String(),
			TransactionID: s.Transaction.ID,
		})
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction": toTransactionResponse(res.Transaction),
		"settled":     settled,
		"balance":     res.Balance.String(),
	})
}

// Withdraw debits the wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.service.Withdraw(c.UserContext(), c.Params("walletId"), amount, ledger.Metadata{Note: req.Note})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type reverseRequest struct {
	Note string `json:"note"`
}

// Reverse records a compensating REVERSAL entry for a prior transaction.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	var req reverseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.Reverse(c.UserContext(), c.Params("transactionId"), req.Note)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

// Close soft-closes the wallet.
func (h *Handler) Close(c *fiber.Ctx) error {
	if err := h.service.CloseWallet(c.UserContext(), c.Params("walletId")); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": c.Params("walletId"),
		"status":    ledger.WalletStatusClosed,
	})
}

// Wallet returns current wallet state.
func (h *Handler) Wallet(c *fiber.Ctx) error {
	w, err := h.service.Wallet(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"id":       w.ID,
		"owner_id": w.OwnerID,
		"balance":  w.Balance.String(),
		"status":   w.Status,
	})
}

// Transactions returns the wallet's ledger entries.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.service.Transactions(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapError(err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Outstanding returns the owner's unsettled obligations in settlement order.
func (h *Handler) Outstanding(c *fiber.Ctx) error {
	obs, err := h.service.Outstanding(c.UserContext(), c.Params("ownerId"))
	if err != nil {
		return mapError(err)
	}
	type item struct {
		ID       string `json:"id"`
		LoanID   string `json:"loan_id"`
		Sequence int    `json:"sequence"`
		Amount   string `json:"amount"`
		DueDate  string `json:"due_date"`
		Status   string `json:"status"`
	}
	out := make([]item, 0, len(obs))
	for _, ob := range obs {
		out = append(out, item{
			ID:       ob.ID,
			LoanID:   ob.LoanID,
			Sequence: ob.Sequence,
			Amount:   ob.Amount.String(),
			DueDate:  ob.DueDate.Format("2006-01-02"),
			Status:   ob.Status,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"obligations": out})
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:           tx.ID,
		WalletID:     tx.WalletID,
		Amount:       tx.Amount.String(),
		Kind:         string(tx.Kind),
		ObligationID: tx.ObligationID,
		CreatedAt:    tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func parseAmount(raw string) (money.Money, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return money.FromDecimal(d)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ledger.ErrObligationNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, money.ErrPrecision):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrWalletClosed):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
