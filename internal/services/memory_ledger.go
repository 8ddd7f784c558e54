package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/fundflow/backend/internal/models"
)

// memoryAccount pairs account state with a one-slot semaphore acting as
// its transfer lock.
type memoryAccount struct {
	account models.Account
	sem     chan struct{}
}

// MemoryLedger is the in-process LedgerStore used when no database is
// configured, and the backend the concurrency tests run against.
//
// Each account owns a semaphore; a transfer acquires both endpoint
// semaphores in ascending id order (preventing deadlock) with a bounded
// wait, then applies debit, credit and the log append under the store
// mutex so readers only ever observe committed state.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[int64]*memoryAccount
	byName   map[string]int64
	log      []models.Transaction
	nextID   int64
	nextTxID int64
	lockWait time.Duration
}

func NewMemoryLedger() *MemoryLedger {
	viper.SetDefault("ledger.lock_wait", 2*time.Second)
	return &MemoryLedger{
		accounts: make(map[int64]*memoryAccount),
		byName:   make(map[string]int64),
		lockWait: viper.GetDuration("ledger.lock_wait"),
	}
}

func (s *MemoryLedger) CreateAccount(ctx context.Context, username, passwordHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return 0, ErrDuplicateUsername
	}

	s.nextID++
	now := time.Now()
	s.accounts[s.nextID] = &memoryAccount{
		account: models.Account{
			ID:           s.nextID,
			Username:     username,
			PasswordHash: passwordHash,
			Balance:      viper.GetInt64("ledger.opening_balance_cents"),
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		sem: make(chan struct{}, 1),
	}
	s.byName[username] = s.nextID
	return s.nextID, nil
}

func (s *MemoryLedger) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := s.accounts[id].account
	return &cp, nil
}

func (s *MemoryLedger) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := a.account
	return &cp, nil
}

func (s *MemoryLedger) Transfer(ctx context.Context, senderID, receiverID, amount int64) (*TransferResult, error) {
	if err := validateTransferArgs(senderID, receiverID, amount); err != nil {
		return nil, err
	}

	s.mu.RLock()
	sender, senderOK := s.accounts[senderID]
	receiver, receiverOK := s.accounts[receiverID]
	s.mu.RUnlock()
	if !senderOK || !receiverOK {
		return nil, ErrAccountNotFound
	}

	// Acquire both account locks in ascending id order within a bounded
	// wait; contention past the deadline surfaces as ErrBusy, retryable.
	firstLock, secondLock := sender, receiver
	if senderID > receiverID {
		firstLock, secondLock = receiver, sender
	}

	deadline := time.Now().Add(s.lockWait)
	if err := acquire(ctx, firstLock.sem, deadline); err != nil {
		return nil, err
	}
	defer func() { <-firstLock.sem }()

	if err := acquire(ctx, secondLock.sem, deadline); err != nil {
		return nil, err
	}
	defer func() { <-secondLock.sem }()

	if sender.account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	// Balance mutation and log append happen together under the store
	// mutex; readers never see one without the other.
	s.mu.Lock()
	defer s.mu.Unlock()

	sender.account.Balance -= amount
	sender.account.Version++
	receiver.account.Balance += amount
	receiver.account.Version++

	now := time.Now()
	sender.account.UpdatedAt = now
	receiver.account.UpdatedAt = now

	s.nextTxID++
	tx := models.Transaction{
		ID:         s.nextTxID,
		Reference:  uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
		Status:     "SUCCESS",
		CreatedAt:  now,
	}
	s.log = append(s.log, tx)

	return &TransferResult{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		SenderBalance: sender.account.Balance,
	}, nil
}

// acquire takes the one-slot semaphore, giving up at the deadline or on
// context cancellation.
func acquire(ctx context.Context, sem chan struct{}, deadline time.Time) error {
	wait := time.NewTimer(time.Until(deadline))
	defer wait.Stop()

	select {
	case sem <- struct{}{}:
		return nil
	case <-wait.C:
		return ErrBusy
	case <-ctx.Done():
		return ErrBusy
	}
}

func (s *MemoryLedger) BalanceOf(ctx context.Context, accountID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return a.account.Balance, nil
}

func (s *MemoryLedger) HistoryOf(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}

	// Log is append-ordered; walk backwards for newest-first.
	var history []models.Transaction
	for i := len(s.log) - 1; i >= 0; i-- {
		t := s.log[i]
		if t.SenderID == accountID || t.ReceiverID == accountID {
			history = append(history, t)
		}
	}
	return history, nil
}

func (s *MemoryLedger) StatsOf(ctx context.Context, accountID int64) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	stats := models.Stats{Balance: a.account.Balance}
	for _, t := range s.log {
		if t.SenderID == accountID {
			stats.TotalSent += t.Amount
			stats.TxCount++
		} else if t.ReceiverID == accountID {
			stats.TotalReceived += t.Amount
			stats.TxCount++
		}
	}
	return &stats, nil
}
