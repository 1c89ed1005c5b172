package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Authority answers whether a user is an authorized member of a hive. It is
// consulted as a precondition before the user can appear in hive presence.
type Authority interface {
	IsMember(ctx context.Context, hiveID, userID string) (bool, error)
}

// HiveMember is a persisted hive membership record.
type HiveMember struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	HiveID   string    `json:"hive_id" gorm:"not null;uniqueIndex:idx_hive_member"`
	UserID   string    `json:"user_id" gorm:"not null;uniqueIndex:idx_hive_member"`
	Role     string    `json:"role" gorm:"default:member"`
	JoinedAt time.Time `json:"joined_at"`
}

func (HiveMember) TableName() string {
	return "hive_members"
}

// Repository implements Authority against the hive membership table.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) IsMember(ctx context.Context, hiveID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&HiveMember{}).
		Where("hive_id = ? AND user_id = ?", hiveID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check hive membership: %w", err)
	}
	return count > 0, nil
}
