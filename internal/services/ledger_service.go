package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/fundflow/backend/internal/models"
)

const (
	pqUniqueViolation  = "23505"
	pqLockNotAvailable = "55P03"
)

// PostgresLedger is the durable LedgerStore. Transfers run inside a
// single database transaction with row locks taken in ascending account
// id order, so concurrent transfers sharing an account serialize while
// transfers over disjoint pairs proceed in parallel.
type PostgresLedger struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	viper.SetDefault("ledger.lock_wait", 2*time.Second)
	return &PostgresLedger{
		db:          db,
		lockTimeout: viper.GetDuration("ledger.lock_wait"),
	}
}

func (s *PostgresLedger) CreateAccount(ctx context.Context, username, passwordHash string) (int64, error) {
	openingBalance := viper.GetInt64("ledger.opening_balance_cents")

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (username, password_hash, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		RETURNING id`,
		username, passwordHash, openingBalance).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return 0, ErrDuplicateUsername
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

func (s *PostgresLedger) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, balance, version, created_at, updated_at
		FROM accounts
		WHERE username = $1`,
		username).Scan(&account.ID, &account.Username, &account.PasswordHash,
		&account.Balance, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("fetch account %q: %w", username, err)
	}
	return &account, nil
}

func (s *PostgresLedger) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = $1`,
		id).Scan(&account.ID, &account.Username, &account.PasswordHash,
		&account.Balance, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("fetch account %d: %w", id, err)
	}
	return &account, nil
}

func (s *PostgresLedger) Transfer(ctx context.Context, senderID, receiverID, amount int64) (*TransferResult, error) {
	if err := validateTransferArgs(senderID, receiverID, amount); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback()

	// Bound the row-lock wait so contended transfers fail with ErrBusy
	// instead of queuing indefinitely.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := senderID, receiverID
	if senderID > receiverID {
		firstLock, secondLock = receiverID, senderID
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, err
	}

	sender, receiver := first, second
	if firstLock != senderID {
		sender, receiver = second, first
	}

	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference := uuid.NewString()
	var txID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (reference, sender_id, receiver_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, 'SUCCESS', NOW())
		RETURNING id`,
		reference, senderID, receiverID, amount).Scan(&txID)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := s.updateBalance(ctx, tx, sender.ID, sender.Balance-amount, sender.Version); err != nil {
		return nil, err
	}
	if err := s.updateBalance(ctx, tx, receiver.ID, receiver.Balance+amount, receiver.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	return &TransferResult{
		TransactionID: txID,
		Reference:     reference,
		SenderBalance: sender.Balance - amount,
	}, nil
}

func (s *PostgresLedger) lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`,
		accountID).Scan(&account.ID, &account.Balance, &account.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqLockNotAvailable {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("lock account %d: %w", accountID, err)
	}
	return &account, nil
}

func (s *PostgresLedger) updateBalance(ctx context.Context, tx *sql.Tx, accountID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		newBalance, accountID, version)
	if err != nil {
		return fmt.Errorf("update balance for account %d: %w", accountID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}
	return nil
}

func (s *PostgresLedger) BalanceOf(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("read balance for account %d: %w", accountID, err)
	}
	return balance, nil
}

func (s *PostgresLedger) HistoryOf(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	// An unknown account is ErrAccountNotFound, not an empty history.
	if _, err := s.BalanceOf(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, sender_id, receiver_id, amount, status, created_at
		FROM transactions
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("fetch history for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var history []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.Reference, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func (s *PostgresLedger) StatsOf(ctx context.Context, accountID int64) (*models.Stats, error) {
	balance, err := s.BalanceOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var stats models.Stats
	stats.Balance = balance

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN sender_id = $1 THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN receiver_id = $1 THEN amount ELSE 0 END), 0),
			COUNT(id)
		FROM transactions
		WHERE sender_id = $1 OR receiver_id = $1`,
		accountID).Scan(&stats.TotalSent, &stats.TotalReceived, &stats.TxCount)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats for account %d: %w", accountID, err)
	}
	return &stats, nil
}
