package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	messageSuccess = "Success"
	messageError   = "Error"
)

// decodes an event, stores the item under a fresh id and publishes it
type Handler struct {
	store ItemStore
	queue Publisher
	newID func() string
}

func NewHandler(store ItemStore, queue Publisher) *Handler {
	return &Handler{
		store: store,
		queue: queue,
		newID: uuid.NewString,
	}
}

// Handle never returns a non-nil error, every failure becomes a 500 response
func (h *Handler) Handle(ctx context.Context, event Event) (resp Response, _ error) {
	hl := log.With().Str("handler", "ingest").Logger()
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		hl = hl.With().Str("request_id", lc.AwsRequestID).Logger()
	}

	hl.Info().Interface("event", event).Msg("Received event")

	defer func() {
		if r := recover(); r != nil {
			hl.Error().Interface("panic", r).Msg("Handler recovered from panic")
			resp = errorResponse(fmt.Errorf("panic: %v", r))
		}
	}()

	id, err := h.process(ctx, event)
	if err != nil {
		hl.Error().Err(err).Msg("Failed to handle event")
		return errorResponse(err), nil
	}

	hl.Debug().Str("id", id).Msg("Item stored and published")
	return successResponse(id), nil
}

func (h *Handler) process(ctx context.Context, event Event) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(event.Body)
	if err != nil {
		return "", fmt.Errorf("decode event body: %w", err)
	}

	item, err := parseItem(raw)
	if err != nil {
		return "", fmt.Errorf("decode event body: %w", err)
	}

	id := h.newID()
	item["id"] = id

	if err := h.store.PutItem(ctx, item); err != nil {
		return "", fmt.Errorf("put item: %w", err)
	}

	// a failed publish leaves the stored item in place
	body, err := marshalJSON(item)
	if err != nil {
		return "", fmt.Errorf("encode item: %w", err)
	}
	if err := h.queue.Publish(ctx, string(body)); err != nil {
		return "", fmt.Errorf("publish item: %w", err)
	}

	return id, nil
}

func successResponse(id string) Response {
	return newResponse(http.StatusOK, successBody{Message: messageSuccess, ID: id})
}

func errorResponse(err error) Response {
	return newResponse(http.StatusInternalServerError, errorBody{Message: messageError, Error: err.Error()})
}

func newResponse(status int, body any) Response {
	data, err := marshalJSON(body)
	if err != nil {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"message":"Error","error":"encode response"}`,
		}
	}
	return Response{StatusCode: status, Body: string(data)}
}
