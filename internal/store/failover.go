package store

import (
	"context"
	"sync/atomic"
	"time"

	"driftsync/internal/domain"
	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore routes to the primary store until it fails, then serves from
// the fallback and periodically retries the primary. It keeps the process
// functioning through a primary outage; it does not merge the two stores back
// together afterwards.
type FailoverStore struct {
	primary   domain.PendingStore
	fallback  domain.PendingStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback domain.PendingStore, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverStore) Load(ctx context.Context) ([]models.PendingOperation, error) {
	if !f.isDown.Load() {
		ops, err := f.primary.Load(ctx)
		if err == nil {
			return ops, nil
		}
		f.markDown(err)
	}

	if f.isDown.Load() && time.Since(f.lastCheck) > recoveryInterval {
		ops, err := f.primary.Load(ctx)
		if err == nil {
			f.isDown.Store(false)
			f.logger.Info().Msg("Primary store recovered")
			return ops, nil
		}
		f.lastCheck = time.Now()
	}

	return f.fallback.Load(ctx)
}

func (f *FailoverStore) Save(ctx context.Context, ops []models.PendingOperation) error {
	if !f.isDown.Load() {
		err := f.primary.Save(ctx, ops)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}

	return f.fallback.Save(ctx, ops)
}

func (f *FailoverStore) Clear(ctx context.Context) error {
	if !f.isDown.Load() {
		err := f.primary.Clear(ctx)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}

	return f.fallback.Clear(ctx)
}

func (f *FailoverStore) Close() error {
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

func (f *FailoverStore) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary store failed, falling back")
	f.isDown.Store(true)
	f.lastCheck = time.Now()
}
