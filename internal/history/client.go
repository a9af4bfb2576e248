package history

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
	"github.com/dukepan/chatroom-gateway/internal/models"
	"github.com/dukepan/chatroom-gateway/internal/observability"
	"github.com/dukepan/chatroom-gateway/internal/utils"
)

// Client is the engine's view of the history store. Every call is bounded by
// timeout and every failure comes back as apperr.ErrStorageUnavailable.
// Failed appends are never retried here: a retry after an ambiguous failure
// could store the message twice.
type Client struct {
	store   Store
	timeout time.Duration
	logger  *utils.Logger
	tracer  trace.Tracer
}

func NewClient(store Store, timeout time.Duration, logger *utils.Logger) *Client {
	return &Client{
		store:   store,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer("history-client"),
	}
}

type appendResult struct {
	msg models.Message
	err error
}

// Append stores msg and returns it with its assigned sequence and timestamp.
// A call that times out is not cancelled in the store: the write may still
// commit afterwards and take its sequence, leaving a number no subscriber was
// sent. Engines running behind a relay skip such holes after their gap wait.
func (c *Client) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	ctx, span := c.tracer.Start(ctx, "history.append", trace.WithAttributes(
		attribute.Int64("room.id", msg.RoomID),
		attribute.String("message.kind", string(msg.Kind)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan appendResult, 1)
	go func() {
		stored, err := c.store.Append(ctx, msg)
		done <- appendResult{msg: stored, err: err}
	}()

	var res appendResult
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res.err = ctx.Err()
		}
	}

	if res.err != nil {
		observability.AppendFailures.Inc()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "append failed")
		c.logger.Error(ctx, "Failed to append message to room %d: %v", msg.RoomID, res.err)
		return models.Message{}, fmt.Errorf("append to room %d: %w: %w", msg.RoomID, apperr.ErrStorageUnavailable, res.err)
	}

	observability.MessagesAppended.WithLabelValues(string(res.msg.Kind)).Inc()
	span.SetAttributes(attribute.Int64("message.sequence", res.msg.Sequence))
	return res.msg, nil
}

// ListSince returns the messages of roomID after fromSequence, oldest first.
func (c *Client) ListSince(ctx context.Context, roomID, fromSequence int64, limit int) ([]models.Message, error) {
	ctx, span := c.tracer.Start(ctx, "history.list_since", trace.WithAttributes(
		attribute.Int64("room.id", roomID),
		attribute.Int64("from.sequence", fromSequence),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages, err := c.store.ListSince(ctx, roomID, fromSequence, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("list room %d since %d: %w: %w", roomID, fromSequence, apperr.ErrStorageUnavailable, err)
	}
	return messages, nil
}

// LastSequence returns the highest sequence assigned in roomID.
func (c *Client) LastSequence(ctx context.Context, roomID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	last, err := c.store.LastSequence(ctx, roomID)
	if err != nil {
		c.logger.Error(ctx, "Failed to read last sequence of room %d: %v", roomID, err)
		return 0, fmt.Errorf("last sequence of room %d: %w: %w", roomID, apperr.ErrStorageUnavailable, err)
	}
	return last, nil
}

func (c *Client) Close() error {
	return c.store.Close()
}
