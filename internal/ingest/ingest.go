package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalwatch/internal/events"
	"signalwatch/internal/logging"
	"signalwatch/internal/model"
)

// Message is the JSON envelope accepted from the event topic.
type Message struct {
	WatchListID   string             `json:"watchListId"`
	EventData     model.EventContent `json:"eventData"`
	CorrelationID string             `json:"correlationId,omitempty"`
}

// Sink accepts decoded events; events.Service satisfies it.
type Sink interface {
	CreateEvent(ctx context.Context, req events.CreateEventRequest) (model.Event, error)
}

var (
	ErrEmptyMessage = errors.New("empty message")
	// ErrDeliveryPanic reports a message whose handling panicked.
	ErrDeliveryPanic = errors.New("message handling panicked")
)

func Decode(data []byte) (Message, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Message{}, ErrEmptyMessage
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// Deliver hands one raw message to sink under its correlation id, minting
// one when the producer did not send it. A panic while handling the message
// is returned as ErrDeliveryPanic so the reading loop keeps going.
func Deliver(ctx context.Context, sink Sink, data []byte) (ev model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev = model.Event{}
			err = fmt.Errorf("%w: %v", ErrDeliveryPanic, r)
		}
	}()
	msg, err := Decode(data)
	if err != nil {
		return model.Event{}, err
	}
	correlationID := strings.TrimSpace(msg.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = logging.WithCorrelationID(ctx, correlationID)
	return sink.CreateEvent(ctx, events.CreateEventRequest{
		WatchListID: msg.WatchListID,
		EventData:   msg.EventData,
	})
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
