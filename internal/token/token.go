// Package token is a minimal fungible-token service backing the campaign
// ledger's TransferService contract. Balances live in a single table; the
// ledger's pooled funds sit in a dedicated custody account. A move joins the
// ambient ledger transaction when one is open, so ledger accounting and the
// token movement commit or roll back together; a standalone move runs in its
// own transaction and a failed move leaves no partial transfer.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/crowdfund/internal/store/dbtx"
	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const custodyAccount = "crowdfund:custody"

// Transfer failures surfaced to the campaign ledger. They propagate to the
// caller verbatim and abort the whole ledger operation.
var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrCustodyShortfall    = errors.New("custody balance below requested amount")
)

// Account mirrors the token_accounts table.
type Account struct {
	Principal    string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "token_accounts" }

// Service implements crowdfund.TransferService over GORM.
type Service struct {
	db *gorm.DB
}

// New returns a Service backed by gorm.DB.
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Migrate creates the token schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{})
}

// MoveIn transfers amount from the principal into ledger custody.
func (service *Service) MoveIn(ctx context.Context, from crowdfund.Principal, amount crowdfund.AmountCents) error {
	if amount.Int64() == 0 {
		return nil
	}
	return service.run(ctx, func(transaction *gorm.DB) error {
		if err := debit(transaction, from.String(), amount.Int64(), ErrInsufficientBalance); err != nil {
			return err
		}
		return credit(transaction, custodyAccount, amount.Int64())
	})
}

// MoveOut transfers amount from ledger custody back to the principal.
func (service *Service) MoveOut(ctx context.Context, to crowdfund.Principal, amount crowdfund.AmountCents) error {
	if amount.Int64() == 0 {
		return nil
	}
	return service.run(ctx, func(transaction *gorm.DB) error {
		if err := debit(transaction, custodyAccount, amount.Int64(), ErrCustodyShortfall); err != nil {
			return err
		}
		return credit(transaction, to.String(), amount.Int64())
	})
}

// Deposit credits freshly issued tokens to a principal. The campaign ledger
// never calls this; it exists for operators and the faucet endpoint.
func (service *Service) Deposit(ctx context.Context, to crowdfund.Principal, amount crowdfund.AmountCents) error {
	if amount.Int64() == 0 {
		return nil
	}
	return service.run(ctx, func(transaction *gorm.DB) error {
		return credit(transaction, to.String(), amount.Int64())
	})
}

// run executes fn inside the ambient ledger transaction when the context
// carries one; a second transaction on the same pool would self-deadlock on
// single-connection sqlite. Standalone calls get their own transaction.
func (service *Service) run(ctx context.Context, fn func(transaction *gorm.DB) error) error {
	if transaction, ok := dbtx.From(ctx); ok {
		return fn(transaction)
	}
	return service.db.WithContext(ctx).Transaction(fn)
}

// Balance reads a principal's current token balance.
func (service *Service) Balance(ctx context.Context, principal crowdfund.Principal) (int64, error) {
	var account Account
	err := service.db.WithContext(ctx).
		Where("principal = ?", principal.String()).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.BalanceCents, nil
}

func debit(transaction *gorm.DB, principal string, amountCents int64, shortfall error) error {
	var account Account
	err := withRowLock(transaction).
		Where("principal = ?", principal).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shortfall
	}
	if err != nil {
		return err
	}
	if account.BalanceCents < amountCents {
		return shortfall
	}
	return transaction.
		Model(&Account{}).
		Where("principal = ?", principal).
		Update("balance_cents", account.BalanceCents-amountCents).Error
}

func credit(transaction *gorm.DB, principal string, amountCents int64) error {
	var account Account
	err := withRowLock(transaction).
		Where(Account{Principal: principal}).
		FirstOrCreate(&account).Error
	if err != nil {
		return err
	}
	return transaction.
		Model(&Account{}).
		Where("principal = ?", principal).
		Update("balance_cents", account.BalanceCents+amountCents).Error
}

// withRowLock adds FOR UPDATE on dialects that support it. SQLite serializes
// writers on its own and rejects the clause.
func withRowLock(transaction *gorm.DB) *gorm.DB {
	if transaction.Dialector.Name() == "sqlite" {
		return transaction
	}
	return transaction.Clauses(clause.Locking{Strength: "UPDATE"})
}
