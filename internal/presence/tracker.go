package presence

import (
	"context"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

const defaultResolveTimeout = 5 * time.Second

// Tracker turns connection open/close signals into online/offline
// transitions and fans each transition out to the user's groups.
//
// Fan-out for one user runs on a single queue, so the side effects of a
// disconnect and a following reconnect never execute concurrently. Queues of
// different users drain in parallel.
//
// Going online resolves the user's groups and counts the user in each. Going
// offline withdraws exactly the groups that were counted, so membership
// changes made while the user is online cannot leave a count behind.
type Tracker struct {
	registry *Registry
	groups   *GroupLedger
	resolver MembershipResolver
	pub      Publisher
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	queues  map[UserID][]queuedOp
	pending int
	// counted holds, per online user, the groups whose live count currently
	// includes that user. Only the user's queue goroutine changes an entry.
	counted map[UserID]map[GroupID]struct{}
}

type opKind int

const (
	opOnline opKind = iota
	opOffline
	opMemberAdded
	opMemberRemoved
)

type queuedOp struct {
	kind  opKind
	group GroupID
}

// TrackerConfig wires a Tracker to its collaborators.
type TrackerConfig struct {
	Registry       *Registry
	Groups         *GroupLedger
	Resolver       MembershipResolver
	Publisher      Publisher
	Logger         *slog.Logger
	Metrics        *Metrics
	ResolveTimeout time.Duration
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	t := &Tracker{
		registry: cfg.Registry,
		groups:   cfg.Groups,
		resolver: cfg.Resolver,
		pub:      cfg.Publisher,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		timeout:  cfg.ResolveTimeout,
		queues:   make(map[UserID][]queuedOp),
		counted:  make(map[UserID]map[GroupID]struct{}),
	}
	t.idle = sync.NewCond(&t.mu)
	return t
}

// Lease is the presence contributed by one connection. Releasing it more
// than once has no further effect.
type Lease struct {
	once    sync.Once
	tracker *Tracker
	user    UserID
}

func (l *Lease) User() UserID { return l.user }

// Release withdraws the connection's presence. A nil lease is a no-op, which
// covers connections that closed before announcing themselves.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.tracker.disconnect(l.user) })
}

// Connect records an open connection for user. The first connection of an
// offline user triggers the online transition.
func (t *Tracker) Connect(user UserID) *Lease {
	t.mu.Lock()
	count := t.registry.Increment(user)
	if count == 1 {
		t.enqueueLocked(user, queuedOp{kind: opOnline})
	}
	t.mu.Unlock()
	t.metrics.SetUsersOnline(t.registry.ActiveUsers())
	if count == 1 {
		t.metrics.IncTransition(KindOnline)
	}
	return &Lease{tracker: t, user: user}
}

func (t *Tracker) disconnect(user UserID) {
	t.mu.Lock()
	count, ok := t.registry.Decrement(user)
	if ok && count == 0 {
		t.enqueueLocked(user, queuedOp{kind: opOffline})
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Warn("disconnect for user without connections", "user_id", user)
		return
	}
	t.metrics.SetUsersOnline(t.registry.ActiveUsers())
	if count == 0 {
		t.metrics.IncTransition(KindOffline)
	}
}

// MemberAdded counts user in group if the user is online and not yet counted
// there. Call it after the membership is stored.
func (t *Tracker) MemberAdded(user UserID, group GroupID) {
	t.mu.Lock()
	t.enqueueLocked(user, queuedOp{kind: opMemberAdded, group: group})
	t.mu.Unlock()
}

// MemberRemoved withdraws user from group's live count if it was counted
// there. Call it after the membership is deleted.
func (t *Tracker) MemberRemoved(user UserID, group GroupID) {
	t.mu.Lock()
	t.enqueueLocked(user, queuedOp{kind: opMemberRemoved, group: group})
	t.mu.Unlock()
}

func (t *Tracker) IsOnline(user UserID) bool {
	return t.registry.IsOnline(user)
}

// Wait blocks until every queued fan-out has completed.
func (t *Tracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.pending > 0 {
		t.idle.Wait()
	}
}

// enqueueLocked appends op to the user's queue, starting a drain goroutine
// when none owns it. t.mu must be held, so ops queue in registry order.
func (t *Tracker) enqueueLocked(user UserID, op queuedOp) {
	t.pending++
	queue, running := t.queues[user]
	t.queues[user] = append(queue, op)
	if !running {
		go t.drain(user)
	}
}

// drain runs queued ops of one user in order and exits once the queue is
// empty. An entry in t.queues means a drain goroutine owns it.
func (t *Tracker) drain(user UserID) {
	for {
		t.mu.Lock()
		queue := t.queues[user]
		if len(queue) == 0 {
			delete(t.queues, user)
			t.mu.Unlock()
			return
		}
		op := queue[0]
		t.queues[user] = queue[1:]
		t.mu.Unlock()

		t.run(user, op)

		t.mu.Lock()
		t.pending--
		if t.pending == 0 {
			t.idle.Broadcast()
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) run(user UserID, op queuedOp) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("presence fan-out panic", "user_id", user, "panic", r, "stack", string(debug.Stack()))
		}
		t.metrics.ObserveFanout(time.Since(start))
	}()

	switch op.kind {
	case opOnline:
		t.online(user)
	case opOffline:
		t.offline(user)
	case opMemberAdded:
		t.mu.Lock()
		groups, online := t.counted[user]
		_, already := groups[op.group]
		if online && !already {
			groups[op.group] = struct{}{}
		}
		t.mu.Unlock()
		if online && !already {
			t.publishCount(op.group, t.groups.Increment(op.group))
		}
	case opMemberRemoved:
		t.mu.Lock()
		_, counted := t.counted[user][op.group]
		if counted {
			delete(t.counted[user], op.group)
		}
		t.mu.Unlock()
		if counted {
			t.publishCount(op.group, t.groups.Decrement(op.group))
		}
	}
}

func (t *Tracker) online(user UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	counted := make(map[GroupID]struct{})
	groups, err := t.resolver.GroupsForUser(ctx, user)
	if err != nil {
		// No retry: a late success of the first lookup would fan out twice.
		t.logger.Error("membership lookup failed, skipping group fan-out", "user_id", user, "transition", KindOnline.String(), "error", err)
		t.metrics.IncResolverFailure()
	} else {
		for _, group := range groups {
			if _, dup := counted[group]; dup {
				continue
			}
			counted[group] = struct{}{}
			t.publishCount(group, t.groups.Increment(group))
		}
	}
	t.mu.Lock()
	t.counted[user] = counted
	t.mu.Unlock()
	t.pub.Publish(Everyone, Event{Kind: KindOnline, Subject: user})
	t.logger.Debug("presence transition", "user_id", user, "transition", KindOnline.String(), "groups", len(counted))
}

func (t *Tracker) offline(user UserID) {
	t.mu.Lock()
	counted := t.counted[user]
	delete(t.counted, user)
	t.mu.Unlock()
	for _, group := range slices.Sorted(maps.Keys(counted)) {
		t.publishCount(group, t.groups.Decrement(group))
	}
	t.pub.Publish(Everyone, Event{Kind: KindOffline, Subject: user})
	t.logger.Debug("presence transition", "user_id", user, "transition", KindOffline.String(), "groups", len(counted))
}

func (t *Tracker) publishCount(group GroupID, count int) {
	t.pub.Publish(GroupRoom(group), Event{Kind: KindGroupCount, Group: group, Count: count})
}
