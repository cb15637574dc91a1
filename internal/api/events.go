package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"livecam/native/internal/domain"
)

type eventsResponse struct {
	Items []domain.Event `json:"items"`
}

// EventsClient lists recorded clips.
type EventsClient struct {
	*Client
	base string
}

// NewEventsClient creates an EventsClient against the API base URL.
func NewEventsClient(c *Client, base string) *EventsClient {
	return &EventsClient{Client: c, base: base}
}

// List returns the recorded events visible to the holder of authToken.
func (c *EventsClient) List(ctx context.Context, authToken string) ([]domain.Event, error) {
	if authToken == "" {
		return nil, domain.NewError(domain.ErrAuth, "login required", nil)
	}
	var resp eventsResponse
	if err := c.do(ctx, http.MethodGet, c.base+"/events", authToken, nil, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return nil, domain.NewError(domain.ErrAuth, requestMessage(err), err)
		}
		return nil, fmt.Errorf("list events: %s: %w", requestMessage(err), err)
	}
	if resp.Items == nil {
		return []domain.Event{}, nil
	}
	return resp.Items, nil
}
