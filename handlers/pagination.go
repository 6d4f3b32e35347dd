package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type PaginationParams struct {
	Limit  int
	Before *time.Time
}

type CursorResponse struct {
	Data       any    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func ParsePagination(c *gin.Context) PaginationParams {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = l
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		if t, err := time.Parse(time.RFC3339Nano, beforeStr); err == nil {
			p.Before = &t
		}
	}

	return p
}

func (p PaginationParams) cacheKey() string {
	if p.Before == nil {
		return strconv.Itoa(p.Limit)
	}
	return fmt.Sprintf("%d:%s", p.Limit, p.Before.Format(time.RFC3339Nano))
}

// page trims rows fetched with Limit+1 and builds the cursor from the last
// kept row.
func page[T any](rows []T, limit int, ts func(T) time.Time) CursorResponse {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	var nextCursor string
	if hasMore && len(rows) > 0 {
		nextCursor = ts(rows[len(rows)-1]).Format(time.RFC3339Nano)
	}
	return CursorResponse{Data: rows, NextCursor: nextCursor, HasMore: hasMore}
}

// parseHours reads an "hours" lookback bounded to [1,maxHours].
func parseHours(c *gin.Context, def, maxHours int) (time.Duration, error) {
	hours := def
	if s := c.Query("hours"); s != "" {
		h, err := strconv.Atoi(s)
		if err != nil || h < 1 || h > maxHours {
			return 0, fmt.Errorf("hours must be an integer between 1 and %d", maxHours)
		}
		hours = h
	}
	return time.Duration(hours) * time.Hour, nil
}
