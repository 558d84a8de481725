package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, resolver MembershipResolver) (*Engine, *recordingPublisher, *Metrics) {
	t.Helper()
	pub := &recordingPublisher{}
	metrics := MustNewMetrics(prometheus.NewRegistry())
	engine := NewEngine(Config{
		Resolver:       resolver,
		Publisher:      pub,
		Logger:         discardLogger(),
		Metrics:        metrics,
		ResolveTimeout: time.Second,
	})
	return engine, pub, metrics
}

func TestTwoTabsCountOnce(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, pub, _ := newTestEngine(t, resolver)

	first := engine.Tracker.Connect(1)
	second := engine.Tracker.Connect(1)
	engine.Tracker.Wait()

	require.Equal(t, 1, pub.count(KindOnline, 1))
	require.Equal(t, []int{1}, pub.groupCounts(100))
	require.Equal(t, 1, engine.GroupLiveCount(100))
	require.True(t, engine.IsOnline(1))

	before := len(pub.snapshot())
	first.Release()
	engine.Tracker.Wait()
	require.Len(t, pub.snapshot(), before, "closing one tab must not publish")
	require.True(t, engine.IsOnline(1))

	second.Release()
	engine.Tracker.Wait()
	require.Equal(t, 1, pub.count(KindOffline, 1))
	require.Equal(t, []int{1, 0}, pub.groupCounts(100))
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.False(t, engine.IsOnline(1))
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, pub, _ := newTestEngine(t, resolver)

	keep := engine.Tracker.Connect(1)
	lease := engine.Tracker.Connect(1)
	lease.Release()
	lease.Release()
	engine.Tracker.Wait()

	require.True(t, engine.IsOnline(1))
	require.Equal(t, 0, pub.count(KindOffline, 1))
	keep.Release()
	engine.Tracker.Wait()
	require.Equal(t, 1, pub.count(KindOffline, 1))
}

func TestNilLeaseDoesNotDecrement(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, pub, _ := newTestEngine(t, resolver)

	lease := engine.Tracker.Connect(1)
	engine.Tracker.Wait()

	var never *Lease
	never.Release()
	engine.Tracker.Wait()

	require.Equal(t, 1, engine.Registry.Count(1))
	require.Equal(t, 0, pub.count(KindOffline, 1))
	lease.Release()
}

func TestGroupCountTracksTransitions(t *testing.T) {
	members := map[UserID][]GroupID{}
	for user := UserID(1); user <= 6; user++ {
		members[user] = []GroupID{9}
	}
	members[3] = []GroupID{9, 10}
	resolver := newFakeResolver(members)
	engine, pub, _ := newTestEngine(t, resolver)

	leases := make(map[UserID]*Lease)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for user := UserID(1); user <= 6; user++ {
		wg.Add(1)
		go func(user UserID) {
			defer wg.Done()
			lease := engine.Tracker.Connect(user)
			mu.Lock()
			leases[user] = lease
			mu.Unlock()
		}(user)
	}
	wg.Wait()
	engine.Tracker.Wait()
	require.Equal(t, 6, engine.GroupLiveCount(9))
	require.Equal(t, 1, engine.GroupLiveCount(10))

	leases[2].Release()
	leases[3].Release()
	engine.Tracker.Wait()
	require.Equal(t, 4, engine.GroupLiveCount(9))
	require.Equal(t, 0, engine.GroupLiveCount(10))
	require.Equal(t, 6, pub.count(KindOnline, 1)+pub.count(KindOnline, 2)+pub.count(KindOnline, 3)+
		pub.count(KindOnline, 4)+pub.count(KindOnline, 5)+pub.count(KindOnline, 6))
}

func TestFanoutIsSerializedPerUser(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	resolver.delay = 2 * time.Millisecond
	engine, pub, _ := newTestEngine(t, resolver)

	for i := 0; i < 20; i++ {
		engine.Tracker.Connect(1).Release()
	}
	engine.Tracker.Wait()

	require.Equal(t, 1, resolver.maxConcurrent(1))
	require.Equal(t, 20, pub.count(KindOnline, 1))
	require.Equal(t, 20, pub.count(KindOffline, 1))
	counts := pub.groupCounts(100)
	require.Len(t, counts, 40)
	for i, c := range counts {
		require.Equal(t, (i+1)%2, c, "transitions must apply in order")
	}
	require.Equal(t, 0, engine.GroupLiveCount(100))
}

func TestReconnectWithinResolverLatency(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, _, _ := newTestEngine(t, resolver)

	first := engine.Tracker.Connect(1)
	engine.Tracker.Wait()
	prior := engine.GroupLiveCount(100)
	require.Equal(t, 1, prior)

	resolver.mu.Lock()
	resolver.delay = 20 * time.Millisecond
	resolver.mu.Unlock()

	first.Release()
	second := engine.Tracker.Connect(1)

	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		count := engine.GroupLiveCount(100)
		require.GreaterOrEqual(t, count, prior-1)
		require.LessOrEqual(t, count, prior+1)
		time.Sleep(time.Millisecond)
	}
	engine.Tracker.Wait()
	require.Equal(t, prior, engine.GroupLiveCount(100))

	second.Release()
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
}

func TestResolverFailureSkipsFanout(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	resolver.setErr(errStoreDown)
	engine, pub, metrics := newTestEngine(t, resolver)

	lease := engine.Tracker.Connect(1)
	engine.Tracker.Wait()

	require.True(t, engine.IsOnline(1), "registry state is kept on resolver failure")
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.Empty(t, pub.groupCounts(100))
	require.Equal(t, 1, pub.count(KindOnline, 1))
	require.Equal(t, 1, resolver.calls, "failed lookups are not retried")
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.resolverFailures))

	resolver.setErr(nil)
	lease.Release()
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.False(t, engine.IsOnline(1))
}

func TestResolverTimeoutSkipsFanout(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	resolver.delay = time.Second
	pub := &recordingPublisher{}
	engine := NewEngine(Config{
		Resolver:       resolver,
		Publisher:      pub,
		Logger:         discardLogger(),
		ResolveTimeout: 10 * time.Millisecond,
	})

	engine.Tracker.Connect(1)
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.Equal(t, 1, pub.count(KindOnline, 1))
}

func TestTransitionMetrics(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, _, metrics := newTestEngine(t, resolver)

	lease := engine.Tracker.Connect(1)
	engine.Tracker.Connect(1).Release()
	lease.Release()
	engine.Tracker.Wait()

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("online")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("offline")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.usersOnline))
}

func TestMemberRemovedWhileOnlineDoesNotLeak(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100, 200}})
	engine, pub, _ := newTestEngine(t, resolver)

	lease := engine.Tracker.Connect(1)
	engine.Tracker.Wait()
	require.Equal(t, 1, engine.GroupLiveCount(100))

	resolver.setGroups(1, 200)
	engine.Tracker.MemberRemoved(1, 100)
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.Equal(t, []int{1, 0}, pub.groupCounts(100))

	lease.Release()
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.Equal(t, 0, engine.GroupLiveCount(200))
	require.Equal(t, []int{1, 0}, pub.groupCounts(100), "offline does not touch the removed group again")
}

func TestMemberAddedWhileOnlineIsCounted(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, _, _ := newTestEngine(t, resolver)

	lease := engine.Tracker.Connect(1)
	engine.Tracker.Wait()

	resolver.setGroups(1, 100, 300)
	engine.Tracker.MemberAdded(1, 300)
	engine.Tracker.MemberAdded(1, 100)
	engine.Tracker.Wait()
	require.Equal(t, 1, engine.GroupLiveCount(300))
	require.Equal(t, 1, engine.GroupLiveCount(100), "already counted groups are not counted twice")

	lease.Release()
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(300))
	require.Equal(t, 0, engine.GroupLiveCount(100))
}

func TestMembershipChangesWhileOfflineAreIgnored(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, pub, _ := newTestEngine(t, resolver)

	engine.Tracker.MemberAdded(1, 100)
	engine.Tracker.MemberRemoved(1, 100)
	engine.Tracker.Wait()
	require.Equal(t, 0, engine.GroupLiveCount(100))
	require.Empty(t, pub.snapshot())
}

func TestLastPresenceEventMatchesRegistry(t *testing.T) {
	resolver := newFakeResolver(map[UserID][]GroupID{1: {100}})
	engine, pub, _ := newTestEngine(t, resolver)

	keep := engine.Tracker.Connect(1)
	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		next := make(chan *Lease, 1)
		go func(old *Lease) {
			defer wg.Done()
			old.Release()
		}(keep)
		go func() {
			defer wg.Done()
			next <- engine.Tracker.Connect(1)
		}()
		wg.Wait()
		keep = <-next
	}
	engine.Tracker.Wait()

	var last Kind
	for _, p := range pub.snapshot() {
		if p.room == Everyone && p.event.Subject == 1 {
			last = p.event.Kind
		}
	}
	require.True(t, engine.IsOnline(1))
	require.Equal(t, KindOnline, last)
	require.Equal(t, 1, engine.GroupLiveCount(100))
	keep.Release()
}
