package entitlement

import (
	"context"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
)

// Repository is the authoritative record store.
//
// The store enforces two partial unique constraints: one active record per
// user, and one trial record per user for all time. Violations surface as
// ErrAlreadyEntitled and ErrTrialAlreadyUsed respectively.
type Repository interface {
	// FindActiveByUser returns the most recently created active record.
	// Returns nil, nil when the user has none. Expiry is not checked.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Record, error)

	// FindAllByUser returns every record of the user, newest first
	FindAllByUser(ctx context.Context, userID uuid.UUID) ([]Record, error)

	// ExistsTrialForUser reports whether the user ever had a trial record
	ExistsTrialForUser(ctx context.Context, userID uuid.UUID) (bool, error)

	// FindAll lists records across all users, newest first
	FindAll(ctx context.Context, filter shared.Filter) ([]Record, int64, error)

	// Create inserts the record as-is
	Create(ctx context.Context, record *Record) error

	// Replace deactivates the user's active records and inserts record in one transaction
	Replace(ctx context.Context, record *Record) error

	// DeactivateByUser flips every active record of the user to inactive.
	// Returns the number of records changed; zero is not an error.
	DeactivateByUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)

	// DeactivateExpired flips soft-expired records to inactive and returns
	// the affected users.
	DeactivateExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Change feed operations. OpResync carries no user and means notifications
// may have been lost, so every known user must be re-resolved.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpResync = "resync"
)

// ChangeNotification is a remote "a record for this user changed" push
type ChangeNotification struct {
	UserID uuid.UUID `json:"user_id"`
	Op     string    `json:"op"`
}

// IsResync reports whether n asks for a full re-resolution
func (n ChangeNotification) IsResync() bool {
	return n.Op == OpResync || n.UserID == uuid.Nil
}

// ChangeFeed is the store's push-change channel filtered by user
type ChangeFeed interface {
	// Publish announces a change. Feeds driven by the store itself may treat
	// this as a no-op.
	Publish(ctx context.Context, n ChangeNotification) error

	// Subscribe delivers notifications to fn until ctx is cancelled or the
	// feed is closed. It blocks.
	Subscribe(ctx context.Context, fn func(ChangeNotification)) error

	Close() error
}
