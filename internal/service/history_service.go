package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type historyStore interface {
	List(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, int, error)
}

// HistoryService exposes the append-only audit log.
type HistoryService struct {
	repo   historyStore
	logger *zap.Logger
}

// NewHistoryService constructs HistoryService.
func NewHistoryService(repo historyStore, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, logger: logger}
}

// List returns history entries matching the filter, oldest first.
func (s *HistoryService) List(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, *models.Pagination, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown history action")
	}
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list history")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return entries, pagination, nil
}
