package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qwikcal/qwikcal/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// GetByOwnerID retrieves an account by owner ID
func (r *accountRepository) GetByOwnerID(ownerID string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("owner_id = ?", ownerID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the account for an owner, creating a free-tier record
// when none exists yet.
func (r *accountRepository) GetOrCreate(ownerID, email string) (*models.Account, error) {
	account := &models.Account{
		OwnerID:            ownerID,
		Email:              email,
		SubscriptionStatus: models.SubscriptionFree,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoNothing: true,
	}).Create(account).Error; err != nil {
		return nil, err
	}
	return r.GetByOwnerID(ownerID)
}

// ApplySubscriptionState performs the monotonic, conditional subscription
// update. The guard on billing_event_at makes duplicate and out-of-order
// billing messages a no-op instead of a regression.
func (r *accountRepository) ApplySubscriptionState(ownerID, status, customerID, subscriptionID string, subscriptionEnd *time.Time, eventAt time.Time) (bool, error) {
	if _, err := r.GetByOwnerID(ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, err := r.GetOrCreate(ownerID, ""); err != nil {
				return false, err
			}
		} else {
			return false, err
		}
	}

	updates := map[string]interface{}{
		"subscription_status": status,
		"subscription_end":    subscriptionEnd,
		"billing_event_at":    &eventAt,
		"updated_at":          time.Now(),
	}
	if customerID != "" {
		updates["customer_id"] = customerID
	}
	if subscriptionID != "" {
		updates["subscription_id"] = subscriptionID
	}

	res := r.db.Model(&models.Account{}).
		Where("owner_id = ? AND (billing_event_at IS NULL OR billing_event_at < ?)", ownerID, eventAt).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
