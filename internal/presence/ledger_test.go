package presence

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupLedgerFloorsAtZero(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	l := NewGroupLedger(discardLogger(), metrics)

	require.Equal(t, 1, l.Increment(3))
	require.Equal(t, 2, l.Increment(3))
	require.Equal(t, 1, l.Decrement(3))
	require.Equal(t, 0, l.Decrement(3))
	require.Equal(t, 0, l.Groups())

	require.Equal(t, 0, l.Decrement(3))
	require.Equal(t, 0, l.Get(3))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.clamps.WithLabelValues("group")))
}

func TestVideoLeaveOnEmptyRoomYieldsZero(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	l := NewVideoLedger(discardLogger(), metrics)

	require.Equal(t, 0, l.Leave(VideoRoomFor(5)))
	require.Equal(t, 1, l.Join(VideoRoomFor(5)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.clamps.WithLabelValues("video")))
}

func TestVideoLedgerInterleavedPeers(t *testing.T) {
	l := NewVideoLedger(discardLogger(), nil)
	room := VideoRoomFor(11)

	var wg sync.WaitGroup
	for peer := 0; peer < 2; peer++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.GreaterOrEqual(t, l.Join(room), 1)
				assert.GreaterOrEqual(t, l.Leave(room), 0)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, l.Get(room))
	require.Equal(t, 0, l.Rooms())
}

func TestVideoLedgerNetJoinsMinusLeaves(t *testing.T) {
	l := NewVideoLedger(discardLogger(), nil)
	room := VideoRoomFor(12)
	for i := 0; i < 10; i++ {
		l.Join(room)
	}
	for i := 0; i < 3; i++ {
		l.Leave(room)
	}
	require.Equal(t, 7, l.Get(room))
	for i := 0; i < 10; i++ {
		l.Leave(room)
	}
	require.Equal(t, 0, l.Get(room))
}

func TestVideoRoomMappingIsStable(t *testing.T) {
	require.Equal(t, VideoRoomFor(7), VideoRoomFor(7))
	require.NotEqual(t, VideoRoomFor(7), VideoRoomFor(8))
	require.Equal(t, Room("video:7"), VideoRoom(7))
	require.Equal(t, Room("group:7"), GroupRoom(7))
}

func TestEventNames(t *testing.T) {
	require.Equal(t, "online", Event{Kind: KindOnline, Subject: 1}.Name())
	require.Equal(t, "offline", Event{Kind: KindOffline, Subject: 1}.Name())
	require.Equal(t, "42:count", Event{Kind: KindGroupCount, Group: 42, Count: 3}.Name())
	require.Equal(t, "user_join_video", Event{Kind: KindVideoJoin}.Name())
	require.Equal(t, "user_leave_video", Event{Kind: KindVideoLeave}.Name())
}
