package models

import (
	"time"
)

// Account is a ledger account row. Balance is stored in minor units
// (cents) and is only ever mutated by the ledger store.
type Account struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Balance      int64     `json:"balance" db:"balance"` // in cents
	Version      int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an append-only transfer log row. Rows are never
// mutated or deleted once committed.
type Transaction struct {
	ID         int64     `json:"id" db:"id"`
	Reference  string    `json:"reference" db:"reference"`
	SenderID   int64     `json:"sender_id" db:"sender_id"`
	ReceiverID int64     `json:"receiver_id" db:"receiver_id"`
	Amount     int64     `json:"amount" db:"amount"` // in cents
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Stats holds the aggregates backing the dashboard view, all in cents.
type Stats struct {
	Balance       int64
	TotalSent     int64
	TotalReceived int64
	TxCount       int64
}
