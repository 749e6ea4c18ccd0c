package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AlexKimmel/tgbot/internal/database/models"
)

var ErrUpsertUser = errors.New("failed to insert or update user")

type UserParams struct {
	UserID   int64
	FullName string
	Language string
	Username *string
}

type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetOrCreateUser inserts the user or, when it exists, updates its username
// and full name, and returns the stored row. Language is only written on
// insert.
func (r *UserRepo) GetOrCreateUser(ctx context.Context, p UserParams) (*models.User, error) {
	user := &models.User{
		UserID:   p.UserID,
		Username: p.Username,
		FullName: p.FullName,
		Language: p.Language,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertStatement(tx, user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w %d: %w", ErrUpsertUser, p.UserID, err)
	}
	return user, nil
}

func upsertStatement(tx *gorm.DB, user *models.User) *gorm.DB {
	return tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "full_name"}),
		},
		clause.Returning{},
	).Create(user)
}
