package entitlements

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/repository"
)

// Gate answers entitlement questions for premium-only operations (image
// ingestion, delivery). It has no side effects.
type Gate struct {
	accounts repository.AccountRepository
}

// NewGate creates a gate reading from the given account repository.
func NewGate(accounts repository.AccountRepository) *Gate {
	return &Gate{accounts: accounts}
}

// IsEntitled reports whether the owner holds premium entitlement. A missing
// account record or a lookup error counts as not entitled: the gate fails
// closed.
func (g *Gate) IsEntitled(ownerID string) bool {
	if ownerID == "" {
		return false
	}
	account, err := g.accounts.GetByOwnerID(ownerID)
	if err != nil {
		log.Debugf("[Entitlements] No account for owner %s: %v", ownerID, err)
		return false
	}
	return account.IsPremium()
}
