// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vanta

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrPagination is returned when a paginated listing cannot complete.
var ErrPagination = errs.Class("pagination")

type pageEnvelope struct {
	Results struct {
		Data     []json.RawMessage `json:"data"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"results"`
}

// paginate walks all pages of an endpoint and delivers every non-empty page
// to fn, waiting for it to return before requesting the next one. Empty
// pages only advance the cursor.
func (client *Client) paginate(ctx context.Context, endpoint string, filters Filters, fn BatchFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	pageSize := client.config.PageSize
	cursor := ""
	pages := 0

	for {
		envelope, err := client.fetchPage(ctx, endpoint, filters, cursor, &pageSize)
		if err != nil {
			return err
		}
		pages++

		if batch := envelope.Results.Data; len(batch) > 0 {
			if err := fn(ctx, batch); err != nil {
				return err
			}
		}

		if !envelope.Results.PageInfo.HasNextPage {
			mon.IntVal("pages_fetched").Observe(int64(pages))
			return nil
		}
		cursor = envelope.Results.PageInfo.EndCursor
	}
}

// fetchPage requests a single page. When the retry schedule is spent on
// server errors the page size is halved and the same cursor fetched again;
// the rest of the walk continues at the degraded size. At page size 1 a
// further failure is terminal.
func (client *Client) fetchPage(ctx context.Context, endpoint string, filters Filters, cursor string, pageSize *int) (*pageEnvelope, error) {
	for {
		query := url.Values{}
		query.Set("pageSize", strconv.Itoa(*pageSize))
		if cursor != "" {
			query.Set("pageCursor", cursor)
		}
		for key, value := range filters {
			query.Set(key, value)
		}

		body, err := client.getJSON(ctx, endpoint, query)
		if err == nil {
			var envelope pageEnvelope
			if err := json.Unmarshal(body, &envelope); err != nil {
				return nil, pageError(endpoint, *pageSize, cursor, err)
			}
			mon.IntVal("page_size").Observe(int64(*pageSize))
			return &envelope, nil
		}

		if isServerError(err) && *pageSize > 1 {
			degraded := *pageSize / 2
			client.log.Warn("server errors persist, degrading page size",
				zap.String("endpoint", endpoint),
				zap.Int("from", *pageSize),
				zap.Int("to", degraded))
			*pageSize = degraded
			continue
		}

		return nil, pageError(endpoint, *pageSize, cursor, err)
	}
}

// isServerError reports whether the terminal error was caused by responses
// in the 5xx range.
func isServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

// pageError wraps a terminal error with the request metadata. Cancellation
// propagates unchanged so callers can match on the context error.
func pageError(endpoint string, pageSize int, cursor string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	id := ""
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		id = apiErr.RequestID
	}
	return ErrPagination.New("endpoint %s failed (page size %d, cursor %q, request id %q): %w",
		endpoint, pageSize, cursor, id, err)
}
