package repository

import "gorm.io/gorm"

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db        *gorm.DB
	maxEvents int
	relayRepo RelayEventRepository
}

// NewRepositoryFactory creates a new repository factory. maxEvents bounds the
// relay journal.
func NewRepositoryFactory(db *gorm.DB, maxEvents int) *RepositoryFactory {
	return &RepositoryFactory{
		db:        db,
		maxEvents: maxEvents,
	}
}

// RelayEvents returns the relay journal repository
func (f *RepositoryFactory) RelayEvents() RelayEventRepository {
	if f.relayRepo == nil {
		f.relayRepo = NewRelayEventRepository(f.db, f.maxEvents)
	}
	return f.relayRepo
}
