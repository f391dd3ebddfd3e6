package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/powerdash/backend/internal/utils"
)

// Journal errors
var (
	ErrNotFound     = fmt.Errorf("record not found: %w", utils.ErrNotFound)
	ErrInvalidInput = fmt.Errorf("invalid input: %w", utils.ErrValidation)
	ErrUnavailable  = fmt.Errorf("journal unavailable: %w", utils.ErrServiceUnavailable)
	ErrDatabase     = errors.New("journal database error")
)

// Repository exposes the connection a repository works on
type Repository interface {
	GetDB() *gorm.DB
}

// BaseRepository holds the connection shared by the journal repositories
type BaseRepository struct {
	db *gorm.DB
}

func NewBaseRepository(db *gorm.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the underlying database connection
func (r *BaseRepository) GetDB() *gorm.DB {
	return r.db
}

// session binds the connection to ctx
func (r *BaseRepository) session(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// translate maps a gorm error raised by op onto the journal errors. A
// cancelled or expired context means the journal could not be reached in
// time, not that the data is bad.
func (r *BaseRepository) translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrDatabase, err)
	}
}
