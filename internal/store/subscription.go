package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/abhiyant/inspect/internal/record"
)

// Subscription is a live query. It delivers the current result set once, then
// a fresh result set after every committed write that can change it.
//
// Snapshots are queued without bound, so a slow reader never blocks writers
// and never misses a change. The channel closes when the subscription is
// closed, its context ends, or the store closes.
type Subscription struct {
	store *Store
	query Query
	out   chan []record.InspectionRecord

	mu     sync.Mutex
	queue  [][]record.InspectionRecord
	signal chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe starts a live query. The first value on C is the result set at
// the time of the call.
//
// Example:
//
//	sub, err := st.Subscribe(ctx, store.Search("ACME"))
//	if err != nil {
//	    return err
//	}
//	defer sub.Close()
//	for snapshot := range sub.C() {
//	    render(snapshot)
//	}
func (s *Store) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	sub := &Subscription{
		store:  s,
		query:  q,
		out:    make(chan []record.InspectionRecord),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	// Holding writeMu orders the initial snapshot before any later write.
	s.writeMu.Lock()
	initial, err := s.Query(ctx, q)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("failed to load initial snapshot: %w", err)
	}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	sub.enqueue(initial)
	s.writeMu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	s.logger.Debugw("subscription started", "text", q.Text, "status", q.Status)
	return sub, nil
}

// List subscribes to every record, newest inspection first.
func (s *Store) List(ctx context.Context) (*Subscription, error) {
	return s.Subscribe(ctx, All())
}

// Search subscribes to records whose searchable fields contain q.
// A blank q behaves like List.
func (s *Store) Search(ctx context.Context, q string) (*Subscription, error) {
	return s.Subscribe(ctx, Search(q))
}

// FilterByStatus subscribes to records with the given status.
func (s *Store) FilterByStatus(ctx context.Context, status record.Status) (*Subscription, error) {
	return s.Subscribe(ctx, ByStatus(status))
}

// C returns the snapshot channel.
func (sub *Subscription) C() <-chan []record.InspectionRecord {
	return sub.out
}

// Query returns the query this subscription evaluates.
func (sub *Subscription) Query() Query {
	return sub.query
}

// Close stops delivery and closes C. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.store.subsMu.Lock()
		delete(sub.store.subs, sub)
		sub.store.subsMu.Unlock()
		close(sub.done)
	})
}

func (sub *Subscription) enqueue(snapshot []record.InspectionRecord) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, snapshot)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// pump moves queued snapshots to out in order.
func (sub *Subscription) pump() {
	defer close(sub.out)

	for {
		sub.mu.Lock()
		var next []record.InspectionRecord
		pending := len(sub.queue) > 0
		if pending {
			next = sub.queue[0]
			sub.queue[0] = nil
			sub.queue = sub.queue[1:]
		}
		sub.mu.Unlock()

		if !pending {
			select {
			case <-sub.signal:
				continue
			case <-sub.done:
				return
			}
		}

		select {
		case sub.out <- next:
		case <-sub.done:
			return
		}
	}
}

// publish re-evaluates every subscription whose result set could include the
// before or after image of a committed write. Callers hold writeMu.
func (s *Store) publish(before, after *record.InspectionRecord) {
	s.subsMu.Lock()
	targets := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		if sub.query.matches(before) || sub.query.matches(after) {
			targets = append(targets, sub)
		}
	}
	s.subsMu.Unlock()

	for _, sub := range targets {
		snapshot, err := s.Query(context.Background(), sub.query)
		if err != nil {
			s.logger.Warnw("failed to refresh subscription", "text", sub.query.Text, "error", err)
			continue
		}
		sub.enqueue(snapshot)
	}
}
