package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/powerdash/backend/internal/db/models"
	"github.com/powerdash/backend/internal/utils"
)

// RelayEventFilter narrows a journal listing. Zero values match everything.
type RelayEventFilter struct {
	Intent   string
	Accepted *bool
}

// RelayEventRepository defines operations on the bounded relay journal
type RelayEventRepository interface {
	Repository
	Append(ctx context.Context, event *models.RelayEvent) error
	List(ctx context.Context, filter RelayEventFilter, page utils.PaginationRequest) ([]models.RelayEvent, int64, error)
	GetByID(ctx context.Context, id string) (*models.RelayEvent, error)
	Count(ctx context.Context) (int64, error)
}

// relayEventRepository implements RelayEventRepository
type relayEventRepository struct {
	BaseRepository
	maxEvents int
}

// NewRelayEventRepository creates a journal keeping at most maxEvents rows
func NewRelayEventRepository(db *gorm.DB, maxEvents int) RelayEventRepository {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &relayEventRepository{
		BaseRepository: NewBaseRepository(db),
		maxEvents:      maxEvents,
	}
}

// Append inserts event and prunes the oldest rows beyond the bound
func (r *relayEventRepository) Append(ctx context.Context, event *models.RelayEvent) error {
	if event == nil || event.ID == "" {
		return ErrInvalidInput
	}

	err := r.session(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		keep := tx.Model(&models.RelayEvent{}).
			Select("seq").
			Order("seq DESC").
			Limit(r.maxEvents)
		return tx.Where("seq NOT IN (?)", keep).Delete(&models.RelayEvent{}).Error
	})
	return r.translate("append relay event", err)
}

// List returns matching events newest first with the total match count
func (r *relayEventRepository) List(ctx context.Context, filter RelayEventFilter, page utils.PaginationRequest) ([]models.RelayEvent, int64, error) {
	filtered := func() *gorm.DB {
		query := r.session(ctx).Model(&models.RelayEvent{})
		if filter.Intent != "" {
			query = query.Where("intent = ?", filter.Intent)
		}
		if filter.Accepted != nil {
			query = query.Where("accepted = ?", *filter.Accepted)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, r.translate("count relay events", err)
	}

	var events []models.RelayEvent
	err := filtered().Order("seq DESC").Scopes(page.Scope()).Find(&events).Error
	if err != nil {
		return nil, 0, r.translate("list relay events", err)
	}
	return events, total, nil
}

// GetByID retrieves one event
func (r *relayEventRepository) GetByID(ctx context.Context, id string) (*models.RelayEvent, error) {
	var event models.RelayEvent
	if err := r.session(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, r.translate("get relay event", err)
	}
	return &event, nil
}

// Count returns the number of journaled events
func (r *relayEventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.session(ctx).Model(&models.RelayEvent{}).Count(&n).Error
	return n, r.translate("count relay events", err)
}
