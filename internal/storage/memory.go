package storage

import (
	"context"
	"sort"
	"sync"

	"signalwatch/internal/model"
)

// memoryStore keeps everything in process. It backs tests and the
// "memory" driver.
type memoryStore struct {
	mu         sync.RWMutex
	watchLists map[string]model.WatchList
	events     map[string]model.Event
	seq        map[string]uint64
	next       uint64
}

func NewMemory() Store {
	return &memoryStore{
		watchLists: make(map[string]model.WatchList),
		events:     make(map[string]model.Event),
		seq:        make(map[string]uint64),
	}
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error { return nil }
func (s *memoryStore) Ping(ctx context.Context) error { return nil }
func (s *memoryStore) Driver() string { return "memory" }

func (s *memoryStore) CreateWatchList(ctx context.Context, wl model.WatchList) (model.WatchList, error) {
	now := nowUTC()
	wl.ID = newID()
	wl.Terms = cloneTerms(wl.Terms)
	wl.CreatedAt = now
	wl.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.seq[wl.ID] = s.next
	s.watchLists[wl.ID] = wl
	return copyWatchList(wl), nil
}

func (s *memoryStore) GetWatchList(ctx context.Context, id string) (model.WatchList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wl, ok := s.watchLists[id]
	if !ok {
		return model.WatchList{}, ErrNotFound
	}
	return copyWatchList(wl), nil
}

func (s *memoryStore) ListWatchLists(ctx context.Context) ([]model.WatchListSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.watchLists))
	for _, ev := range s.events {
		counts[ev.WatchListID]++
	}
	out := make([]model.WatchListSummary, 0, len(s.watchLists))
	for _, wl := range s.watchLists {
		out = append(out, model.WatchListSummary{WatchList: copyWatchList(wl), EventCount: counts[wl.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out, nil
}

func (s *memoryStore) DeleteWatchList(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchLists[id]; !ok {
		return ErrNotFound
	}
	delete(s.watchLists, id)
	delete(s.seq, id)
	for evID, ev := range s.events {
		if ev.WatchListID == id {
			delete(s.events, evID)
			delete(s.seq, evID)
		}
	}
	return nil
}

func (s *memoryStore) CreateEvent(ctx context.Context, watchListID string, content model.EventContent, correlationID string) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wl, ok := s.watchLists[watchListID]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	now := nowUTC()
	ev := model.Event{
		ID:            newID(),
		WatchListID:   wl.ID,
		WatchListName: wl.Name,
		Content:       content,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.next++
	s.seq[ev.ID] = s.next
	s.events[ev.ID] = ev
	return ev, nil
}

func (s *memoryStore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return s.withName(ev), nil
}

func (s *memoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if filter.WatchListID != "" && ev.WatchListID != filter.WatchListID {
			continue
		}
		out = append(out, s.withName(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) UpdateEventAnalysis(ctx context.Context, id string, analysis model.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	a := analysis
	ev.Analysis = &a
	ev.Processed = true
	ev.UpdatedAt = nowUTC()
	s.events[id] = ev
	return nil
}

func (s *memoryStore) withName(ev model.Event) model.Event {
	if wl, ok := s.watchLists[ev.WatchListID]; ok {
		ev.WatchListName = wl.Name
	}
	if ev.Analysis != nil {
		a := *ev.Analysis
		ev.Analysis = &a
	}
	return ev
}

func copyWatchList(wl model.WatchList) model.WatchList {
	wl.Terms = cloneTerms(wl.Terms)
	return wl
}
