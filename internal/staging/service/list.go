package service

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"github.com/smallbiznis/registrar/pkg/db/pagination"
)

type ListRequest struct {
	TenantID string
	Status   stagingdomain.Status
	Reason   stagingdomain.Reason
	UserID   string
	pagination.Pagination
}

type ListResponse struct {
	Invoices []*stagingdomain.Invoice `json:"invoices"`
	pagination.PageInfo
}

// List returns staging invoices newest first. Line items are not loaded.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	var afterID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, stagingdomain.ErrInvalidPageToken
		}
		parsed, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, stagingdomain.ErrInvalidPageToken
		}
		afterID = snowflake.ID(parsed)
	}

	items, err := s.repo.List(ctx, s.db, stagingdomain.ListFilter{
		TenantID: req.TenantID,
		Status:   req.Status,
		Reason:   req.Reason,
		UserID:   req.UserID,
		AfterID:  afterID,
		Limit:    pageSize,
	})
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *stagingdomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	return &ListResponse{Invoices: items, PageInfo: *pageInfo}, nil
}
