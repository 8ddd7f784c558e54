package services

import (
	"context"

	"github.com/fundflow/backend/internal/models"
)

// TransferResult is returned to the caller after a committed transfer so
// the client can refresh the sender's balance without a second read.
type TransferResult struct {
	TransactionID int64
	Reference     string
	SenderBalance int64
}

// LedgerStore owns account balances and the append-only transaction log.
// It is the sole mutator of both; all other services go through it.
//
// Transfer is atomic: debit, credit and the log row commit together or
// not at all, serialized per account. Implementations must return ErrBusy
// rather than block unboundedly when account locks cannot be acquired.
//
// The read methods return ErrAccountNotFound for an unknown account id;
// an empty history or zeroed stats always refer to an existing account.
type LedgerStore interface {
	CreateAccount(ctx context.Context, username, passwordHash string) (int64, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)

	Transfer(ctx context.Context, senderID, receiverID, amount int64) (*TransferResult, error)
	BalanceOf(ctx context.Context, accountID int64) (int64, error)
	HistoryOf(ctx context.Context, accountID int64) ([]models.Transaction, error)
	StatsOf(ctx context.Context, accountID int64) (*models.Stats, error)
}

// validateTransferArgs applies the request-level checks shared by every
// LedgerStore implementation. Existence checks stay with the store since
// they need its view of committed state.
func validateTransferArgs(senderID, receiverID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if senderID == receiverID {
		return ErrSelfTransfer
	}
	return nil
}
