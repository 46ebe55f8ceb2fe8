package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"signalwatch/internal/logging"
	"signalwatch/internal/model"
	"signalwatch/internal/storage"
	"signalwatch/internal/validation"
)

// RecentEventLimit is how many events a single watch list read includes.
const RecentEventLimit = 10

type CreateWatchListRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=100"`
	Description string   `json:"description,omitempty"`
	Terms       []string `json:"terms" validate:"required,min=1,max=50,dive,required"`
}

type CreateEventRequest struct {
	WatchListID string             `json:"watchListId" validate:"required"`
	EventData   model.EventContent `json:"eventData"`
}

// Trigger starts enrichment for a stored event without waiting for it.
type Trigger interface {
	Trigger(eventID string, content model.EventContent, terms []string, correlationID string)
}

type Service struct {
	store     storage.Store
	enricher  Trigger
	validator *validation.Validator
	logger    *slog.Logger
}

func NewService(store storage.Store, enricher Trigger, v *validation.Validator, logger *slog.Logger) *Service {
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, enricher: enricher, validator: v, logger: logger}
}

func (s *Service) CreateWatchList(ctx context.Context, req CreateWatchListRequest) (model.WatchList, error) {
	if err := s.validator.Struct(req); err != nil {
		return model.WatchList{}, err
	}
	wl, err := s.store.CreateWatchList(ctx, model.WatchList{
		Name:        req.Name,
		Description: req.Description,
		Terms:       req.Terms,
	})
	if err != nil {
		return model.WatchList{}, fmt.Errorf("create watch list: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("watch list created",
		"watch_list_id", wl.ID,
		"name", wl.Name,
		"terms", len(wl.Terms),
	)
	return wl, nil
}

func (s *Service) ListWatchLists(ctx context.Context) ([]model.WatchListSummary, error) {
	return s.store.ListWatchLists(ctx)
}

// GetWatchList returns the list with its most recent events.
func (s *Service) GetWatchList(ctx context.Context, id string) (model.WatchListDetail, error) {
	wl, err := s.store.GetWatchList(ctx, id)
	if err != nil {
		return model.WatchListDetail{}, err
	}
	evs, err := s.store.ListEvents(ctx, storage.EventFilter{WatchListID: id, Limit: RecentEventLimit})
	if err != nil {
		return model.WatchListDetail{}, fmt.Errorf("list events of %s: %w", id, err)
	}
	return model.WatchListDetail{WatchList: wl, Events: evs}, nil
}

func (s *Service) DeleteWatchList(ctx context.Context, id string) error {
	if err := s.store.DeleteWatchList(ctx, id); err != nil {
		return err
	}
	logging.FromContext(ctx, s.logger).Info("watch list deleted", "watch_list_id", id)
	return nil
}

// CreateEvent stores an unprocessed event and hands it to enrichment. The
// returned event never carries an analysis.
func (s *Service) CreateEvent(ctx context.Context, req CreateEventRequest) (model.Event, error) {
	req.WatchListID = strings.TrimSpace(req.WatchListID)
	if err := s.validator.Struct(req); err != nil {
		return model.Event{}, err
	}
	wl, err := s.store.GetWatchList(ctx, req.WatchListID)
	if err != nil {
		return model.Event{}, err
	}
	correlationID := logging.CorrelationID(ctx)
	ev, err := s.store.CreateEvent(ctx, wl.ID, req.EventData, correlationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Event{}, err
		}
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("event created",
		"event_id", ev.ID,
		"watch_list_id", wl.ID,
		"type", req.EventData.Type,
	)
	if s.enricher != nil {
		s.enricher.Trigger(ev.ID, ev.Content, wl.Terms, correlationID)
	}
	return ev, nil
}

func (s *Service) ListEvents(ctx context.Context, watchListID string, limit int) ([]model.Event, error) {
	return s.store.ListEvents(ctx, storage.EventFilter{WatchListID: strings.TrimSpace(watchListID), Limit: limit})
}

func (s *Service) GetEvent(ctx context.Context, id string) (model.Event, error) {
	return s.store.GetEvent(ctx, id)
}
