package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgerunner/internal/common/cache"
	"judgerunner/internal/judge/model"
	appErr "judgerunner/pkg/errors"
)

const reportKeyPrefix = "judgerunner:report:"

// ReportRepository keeps recent session reports for lookup by id.
type ReportRepository struct {
	cache cache.BasicOps
	TTL   time.Duration
}

// NewReportRepository creates a new repository.
func NewReportRepository(cacheClient cache.BasicOps, ttl time.Duration) *ReportRepository {
	return &ReportRepository{cache: cacheClient, TTL: ttl}
}

// Get returns the report event for a session.
func (r *ReportRepository) Get(ctx context.Context, sessionID string) (model.ReportEvent, error) {
	if sessionID == "" {
		return model.ReportEvent{}, appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return model.ReportEvent{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, reportKeyPrefix+sessionID)
	if err != nil {
		return model.ReportEvent{}, appErr.Wrapf(err, appErr.CacheError, "load report failed")
	}
	if val == "" {
		return model.ReportEvent{}, appErr.New(appErr.NotFound).WithMessage("session report not found")
	}
	var event model.ReportEvent
	if err := json.Unmarshal([]byte(val), &event); err != nil {
		return model.ReportEvent{}, appErr.Wrapf(err, appErr.CacheError, "decode report failed")
	}
	return event, nil
}

// Save stores a report event.
func (r *ReportRepository) Save(ctx context.Context, event model.ReportEvent) error {
	if event.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	if err := r.cache.Set(ctx, reportKeyPrefix+event.SessionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store report failed")
	}
	return nil
}

// PublishReport implements ReportPublisher by saving the event.
func (r *ReportRepository) PublishReport(ctx context.Context, event model.ReportEvent) error {
	return r.Save(ctx, event)
}
