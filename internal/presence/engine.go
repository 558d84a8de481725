// Package presence tracks who is online, how many members of each group are
// live and how many peers sit in each group's video room.
//
// All state is in memory and owned by one Engine per process. Nothing is
// persisted; counts rebuild as clients reconnect after a restart.
package presence

import (
	"log/slog"
	"time"
)

// Engine owns the registry, both ledgers and the tracker.
type Engine struct {
	Registry *Registry
	Groups   *GroupLedger
	Video    *VideoLedger
	Tracker  *Tracker
	Signal   *VideoSignaling
}

// Config describes the collaborators of an Engine.
type Config struct {
	Resolver       MembershipResolver
	Publisher      Publisher
	Logger         *slog.Logger
	Metrics        *Metrics
	ResolveTimeout time.Duration
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "presence")
	registry := NewRegistry()
	groups := NewGroupLedger(logger, cfg.Metrics)
	video := NewVideoLedger(logger, cfg.Metrics)
	return &Engine{
		Registry: registry,
		Groups:   groups,
		Video:    video,
		Tracker: NewTracker(TrackerConfig{
			Registry:       registry,
			Groups:         groups,
			Resolver:       cfg.Resolver,
			Publisher:      cfg.Publisher,
			Logger:         logger,
			Metrics:        cfg.Metrics,
			ResolveTimeout: cfg.ResolveTimeout,
		}),
		Signal: NewVideoSignaling(video, cfg.Publisher, logger),
	}
}

func (e *Engine) IsOnline(user UserID) bool {
	return e.Registry.IsOnline(user)
}

func (e *Engine) GroupLiveCount(group GroupID) int {
	return e.Groups.Get(group)
}

func (e *Engine) VideoPeerCount(group GroupID) int {
	return e.Video.Get(VideoRoomFor(group))
}
