package services

import (
	"context"
	"time"

	"github.com/powerdash/backend/internal/actuation"
	"github.com/powerdash/backend/internal/db/models"
	"github.com/powerdash/backend/internal/db/repository"
	"github.com/powerdash/backend/internal/utils"
)

// JournalService keeps the bounded relay command journal. Events are queued by
// Record and written by Run so the relay publish path never waits on storage.
type JournalService struct {
	repo   repository.RelayEventRepository
	logger *utils.Logger
	buffer chan actuation.Event
}

// NewJournalService creates a new journal service
func NewJournalService(repo repository.RelayEventRepository, logger *utils.Logger) *JournalService {
	return &JournalService{
		repo:   repo,
		logger: logger.Named("journal_service"),
		buffer: make(chan actuation.Event, 100),
	}
}

// Record implements actuation.Recorder
func (s *JournalService) Record(ev actuation.Event) {
	select {
	case s.buffer <- ev:
	default:
		s.logger.Warn("Journal buffer full, dropping relay event",
			utils.String("id", ev.ID.String()),
			utils.String("intent", string(ev.Intent)))
	}
}

// Run writes queued events until ctx is done, then flushes what is left
func (s *JournalService) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-s.buffer:
			s.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.buffer:
					s.write(ev)
				default:
					return nil
				}
			}
		}
	}
}

// write outlives the Run context so queued events survive shutdown
func (s *JournalService) write(ev actuation.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Append(ctx, toModel(ev)); err != nil {
		s.logger.Error("Failed to journal relay event",
			utils.String("id", ev.ID.String()),
			utils.Error(err))
	}
}

// List returns journal entries, newest first
func (s *JournalService) List(ctx context.Context, filter repository.RelayEventFilter, page utils.PaginationRequest) ([]models.RelayEvent, int64, error) {
	return s.repo.List(ctx, filter, page)
}

// Get returns one journal entry by id
func (s *JournalService) Get(ctx context.Context, id string) (*models.RelayEvent, error) {
	return s.repo.GetByID(ctx, id)
}

func toModel(ev actuation.Event) *models.RelayEvent {
	return &models.RelayEvent{
		ID:       ev.ID.String(),
		Time:     ev.At,
		Intent:   string(ev.Intent),
		Command:  string(ev.Command),
		Topic:    ev.Topic,
		Accepted: ev.Accepted,
		Error:    ev.Error,
	}
}
