// Package router implements the Mode Router: it holds each user's current
// mode and dispatches a deduplicated MessageGroup to the matching KB
// service.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/pkg/events"
)

// Mode selects which KB service handles a user's next grouped batch.
type Mode string

const (
	ModeNote Mode = "note"
	ModeAsk  Mode = "ask"
	ModeTask Mode = "task"
)

// DefaultMode is assigned to users who have never run /note, /ask, or /agent.
const DefaultMode = ModeNote

// Service is the narrow surface the router needs from a KB service
// specialization.
type Service interface {
	Handle(ctx context.Context, group events.MessageGroup) error
}

// DuplicateNotifier sends the user-visible "already processed" reply for a
// fingerprint that was dropped before reaching any service.
type DuplicateNotifier interface {
	NotifyDuplicate(ctx context.Context, chatID int64) error
}

// Router dispatches grouped batches by per-user mode, enforcing the
// dedup invariant: a fingerprint that has already been recorded is
// ignored before any service is invoked.
type Router struct {
	mu       sync.RWMutex
	modes    map[int64]Mode
	services map[Mode]Service
	log      *dedup.Log

	// Notifier, if set, is told about every dropped duplicate so the user
	// sees an "already processed" reply instead of silence. Optional: a nil
	// Notifier just logs, matching the router's behavior before this field
	// existed.
	Notifier DuplicateNotifier
}

func New(log *dedup.Log, note, ask, task Service) *Router {
	return &Router{
		modes: make(map[int64]Mode),
		services: map[Mode]Service{
			ModeNote: note,
			ModeAsk:  ask,
			ModeTask: task,
		},
		log: log,
	}
}

// SetMode records userID's mode in memory for all future dispatches until
// changed again; modes are not persisted across restarts.
func (r *Router) SetMode(userID int64, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[userID] = mode
}

// ModeFor returns userID's current mode, defaulting to ModeNote.
func (r *Router) ModeFor(userID int64) Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modes[userID]; ok {
		return m
	}
	return DefaultMode
}

// Dispatch checks the dedup log and, if the group's fingerprint is new,
// routes it to the service matching the user's current mode. A duplicate
// fingerprint is dropped without invoking any service — this is the
// enforcement point for testable property #1 (dedup).
func (r *Router) Dispatch(ctx context.Context, group events.MessageGroup) error {
	processed, err := r.log.IsProcessed(group.Fingerprint)
	if err != nil {
		return err
	}
	if processed {
		slog.Info("router.duplicate_ignored", "fingerprint", group.Fingerprint, "user_id", group.UserID)
		if r.Notifier != nil {
			if err := r.Notifier.NotifyDuplicate(ctx, group.ChatID); err != nil {
				slog.Warn("router.duplicate_notify_failed", "error", err, "user_id", group.UserID)
			}
		}
		return nil
	}

	mode := r.ModeFor(group.UserID)
	svc, ok := r.services[mode]
	if !ok {
		slog.Error("router.no_service_for_mode", "mode", mode, "user_id", group.UserID)
		return nil
	}
	return svc.Handle(ctx, group)
}

// Run drains groups from in and dispatches them until ctx is cancelled or
// in is closed.
func (r *Router) Run(ctx context.Context, in <-chan events.MessageGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case group, ok := <-in:
			if !ok {
				return
			}
			if err := r.Dispatch(ctx, group); err != nil {
				slog.Error("router.dispatch_failed", "user_id", group.UserID, "error", err)
			}
		}
	}
}
