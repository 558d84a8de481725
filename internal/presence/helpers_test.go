package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

type published struct {
	room  Room
	event Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(room Room, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{room: room, event: event})
}

func (p *recordingPublisher) count(kind Kind, subject UserID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event.Kind == kind && e.event.Subject == subject {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) groupCounts(group GroupID) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var counts []int
	for _, e := range p.events {
		if e.event.Kind == KindGroupCount && e.event.Group == group {
			counts = append(counts, e.event.Count)
		}
	}
	return counts
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

var errStoreDown = errors.New("store unavailable")

type fakeResolver struct {
	mu       sync.Mutex
	groups   map[UserID][]GroupID
	err      error
	delay    time.Duration
	inFlight map[UserID]int
	maxSeen  map[UserID]int
	calls    int
}

func newFakeResolver(groups map[UserID][]GroupID) *fakeResolver {
	return &fakeResolver{
		groups:   groups,
		inFlight: make(map[UserID]int),
		maxSeen:  make(map[UserID]int),
	}
}

func (r *fakeResolver) GroupsForUser(ctx context.Context, user UserID) ([]GroupID, error) {
	r.mu.Lock()
	r.calls++
	r.inFlight[user]++
	if r.inFlight[user] > r.maxSeen[user] {
		r.maxSeen[user] = r.inFlight[user]
	}
	delay, err := r.delay, r.err
	groups := append([]GroupID(nil), r.groups[user]...)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight[user]--
		r.mu.Unlock()
	}()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *fakeResolver) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeResolver) maxConcurrent(user UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen[user]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (r *fakeResolver) setGroups(user UserID, groups ...GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[user] = groups
}
