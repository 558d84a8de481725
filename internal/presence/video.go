package presence

import "log/slog"

// VideoSignaling applies explicit join/leave signaling messages to the video
// ledger and announces the new peer count to the group's subscribers.
type VideoSignaling struct {
	ledger *VideoLedger
	pub    Publisher
	logger *slog.Logger
}

func NewVideoSignaling(ledger *VideoLedger, pub Publisher, logger *slog.Logger) *VideoSignaling {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoSignaling{ledger: ledger, pub: pub, logger: logger}
}

// Join registers one peer in the group's video room. Peers already in the
// room are told about peerID so they can start negotiating with it.
func (v *VideoSignaling) Join(group GroupID, peerID string) int {
	count := v.ledger.Join(VideoRoomFor(group))
	v.pub.Publish(GroupRoom(group), Event{Kind: KindVideoJoin, Group: group, Count: count})
	if peerID != "" {
		v.pub.Publish(VideoRoom(group), Event{Kind: KindPeerJoined, Group: group, Peer: peerID})
	}
	v.logger.Debug("video peer joined", "group_id", group, "peers", count)
	return count
}

// Leave removes one peer from the group's video room.
func (v *VideoSignaling) Leave(group GroupID) int {
	count := v.ledger.Leave(VideoRoomFor(group))
	v.pub.Publish(GroupRoom(group), Event{Kind: KindVideoLeave, Group: group, Count: count})
	v.logger.Debug("video peer left", "group_id", group, "peers", count)
	return count
}

func (v *VideoSignaling) Peers(group GroupID) int {
	return v.ledger.Get(VideoRoomFor(group))
}
