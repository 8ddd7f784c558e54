package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/fundflow/backend/internal/models"
)

// TransferService exposes the ledger over HTTP: the transfer operation
// plus the derived dashboard and history views.
type TransferService struct {
	store     LedgerStore
	validator *ValidationHelper
}

// TransferRequest represents the transfer request payload
// @Description Transfer request structure
type TransferRequest struct {
	ReceiverID int64       `json:"receiver_id" validate:"required" example:"2"`
	Amount     json.Number `json:"amount" example:"250.00"`
}

// TransferResponse is returned after a committed transfer.
type TransferResponse struct {
	TransactionID int64   `json:"transaction_id"`
	Reference     string  `json:"reference"`
	NewBalance    float64 `json:"new_balance"`
}

// DashboardStatsResponse is the aggregate view backing the dashboard.
type DashboardStatsResponse struct {
	Username      string  `json:"username"`
	Balance       float64 `json:"balance"`
	TotalSent     float64 `json:"total_sent"`
	TotalReceived float64 `json:"total_received"`
	TxCount       int64   `json:"tx_count"`
}

// HistoryEntry is a transaction as seen by the requesting account; Type
// is computed relative to the caller, never stored.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // SENT or RECEIVED
	Sender    int64     `json:"sender"`
	Receiver  int64     `json:"receiver"`
	Amount    float64   `json:"amount"`
}

func NewTransferService(store LedgerStore) *TransferService {
	return &TransferService{
		store:     store,
		validator: NewValidationHelper(),
	}
}

// Transfer moves funds from the authenticated account to a receiver
// @Summary Transfer funds
// @Description Atomically move an amount from the caller's account to the receiver
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} TransferResponse
// @Failure 400 {object} ErrorResponse "Invalid amount or self transfer"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Failure 409 {object} ErrorResponse "Insufficient funds"
// @Failure 503 {object} ErrorResponse "Ledger busy"
// @Router /transfer [post]
func (ts *TransferService) Transfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := r.Context().Value("accountID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
	if err := dec.Decode(&req); err != nil {
		SendCoreError(w, ErrInvalidInput)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := models.ParseAmount(req.Amount.String())
	if err != nil {
		log.Printf("[TRANSFER] Rejected malformed amount %q: %v", req.Amount, err)
		SendCoreError(w, ErrInvalidAmount)
		return
	}

	result, err := ts.store.Transfer(r.Context(), senderID, req.ReceiverID, amount)
	if err != nil {
		log.Printf("[TRANSFER] Transfer of %s from %d to %d failed: %v",
			models.FormatAmount(amount), senderID, req.ReceiverID, err)
		SendCoreError(w, err)
		return
	}

	log.Printf("[TRANSFER] Committed tx %d: %s from %d to %d",
		result.TransactionID, models.FormatAmount(amount), senderID, req.ReceiverID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TransferResponse{
		TransactionID: result.TransactionID,
		Reference:     result.Reference,
		NewBalance:    models.AmountToFloat(result.SenderBalance),
	})
}

// DashboardStats returns aggregates for the authenticated account
// @Summary Dashboard statistics
// @Description Balance, totals and transaction count for the caller
// @Tags transfers
// @Produce json
// @Success 200 {object} DashboardStatsResponse
// @Failure 401 {object} ErrorResponse "Unauthenticated"
// @Failure 404 {object} ErrorResponse "Account not found"
// @Router /dashboard-stats [get]
func (ts *TransferService) DashboardStats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := ts.store.GetAccountByID(r.Context(), accountID)
	if err != nil {
		SendCoreError(w, err)
		return
	}

	stats, err := ts.store.StatsOf(r.Context(), accountID)
	if err != nil {
		SendCoreError(w, err)
		return
	}

	// balance must equal opening + received - sent; a mismatch means the
	// ledger and the log have diverged.
	opening := viper.GetInt64("ledger.opening_balance_cents")
	if stats.Balance != opening+stats.TotalReceived-stats.TotalSent {
		log.Printf("[STATS] Consistency mismatch for account %d: balance=%d opening=%d received=%d sent=%d",
			accountID, stats.Balance, opening, stats.TotalReceived, stats.TotalSent)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DashboardStatsResponse{
		Username:      account.Username,
		Balance:       models.AmountToFloat(stats.Balance),
		TotalSent:     models.AmountToFloat(stats.TotalSent),
		TotalReceived: models.AmountToFloat(stats.TotalReceived),
		TxCount:       stats.TxCount,
	})
}

// History returns the caller's transactions, newest first
// @Summary Transaction history
// @Description All transactions where the caller is sender or receiver
// @Tags transfers
// @Produce json
// @Success 200 {array} HistoryEntry
// @Failure 401 {object} ErrorResponse "Unauthenticated"
// @Router /history [get]
func (ts *TransferService) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transactions, err := ts.store.HistoryOf(r.Context(), accountID)
	if err != nil {
		SendCoreError(w, err)
		return
	}

	entries := make([]HistoryEntry, 0, len(transactions))
	for _, t := range transactions {
		entryType := "RECEIVED"
		if t.SenderID == accountID {
			entryType = "SENT"
		}
		entries = append(entries, HistoryEntry{
			ID:        t.ID,
			Timestamp: t.CreatedAt,
			Type:      entryType,
			Sender:    t.SenderID,
			Receiver:  t.ReceiverID,
			Amount:    models.AmountToFloat(t.Amount),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
