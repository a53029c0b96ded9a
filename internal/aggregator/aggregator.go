// Package aggregator implements the Message Aggregator: it coalesces
// temporally or structurally related chat events from the same user into
// one MessageGroup and emits each group exactly once on a single-consumer
// channel. Uses a per-chat media-group buffering pattern: one timer per
// key, reset on each arrival, flush on expiry or group boundary,
// generalized from Telegram albums to any user's whole message stream.
package aggregator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noteforge/noteforge/internal/dedup"
	"github.com/noteforge/noteforge/pkg/events"
)

// Aggregator buffers events per user and emits MessageGroups through Out.
type Aggregator struct {
	mu      sync.Mutex
	buffers map[int64]*userBuffer
	idle    time.Duration
	out     chan events.MessageGroup

	// now is overridable for deterministic tests.
	now func() time.Time
}

type userBuffer struct {
	chatID       int64
	events       []events.IncomingEvent
	timer        *time.Timer
	mediaGroupID string
}

// New creates an Aggregator with the given idle timeout (MESSAGE_GROUP_TIMEOUT)
// and an output channel buffered deeply enough that a slow consumer never
// blocks Add's caller for long.
func New(idleTimeout time.Duration) *Aggregator {
	return &Aggregator{
		buffers: make(map[int64]*userBuffer),
		idle:    idleTimeout,
		out:     make(chan events.MessageGroup, 64),
		now:     time.Now,
	}
}

// Out is the single-consumer channel groups are emitted on.
func (a *Aggregator) Out() <-chan events.MessageGroup { return a.out }

// Add appends event to its user's buffer and (re)arms the idle timer. It
// performs no I/O. A non-empty MediaGroupID bypasses the idle wait: the
// buffer flushes as soon as a subsequent event arrives for a different
// group (or after a short settle window), matching the platform "album"
// semantics a platform's native album grouping implies.
func (a *Aggregator) Add(event events.IncomingEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.buffers[event.UserID]
	if !ok {
		buf = &userBuffer{chatID: event.ChatID}
		a.buffers[event.UserID] = buf
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}

	if buf.mediaGroupID != "" && event.MediaGroupID != buf.mediaGroupID {
		pending := a.takeLocked(event.UserID)
		a.emit(pending)
		buf = &userBuffer{chatID: event.ChatID}
		a.buffers[event.UserID] = buf
	}

	buf.events = append(buf.events, event)
	buf.mediaGroupID = event.MediaGroupID
	buf.chatID = event.ChatID

	delay := a.idle
	if event.MediaGroupID != "" {
		delay = 500 * time.Millisecond
	}
	buf.timer = time.AfterFunc(delay, func() { a.Flush(event.UserID) })
}

// Flush emits userID's current buffer if non-empty. Safe to call even
// with no pending buffer (no-op).
func (a *Aggregator) Flush(userID int64) {
	a.mu.Lock()
	group := a.takeLocked(userID)
	a.mu.Unlock()
	a.emit(group)
}

func (a *Aggregator) emit(group *events.MessageGroup) {
	if group == nil {
		return
	}
	a.out <- *group
}

// takeLocked removes and builds a MessageGroup for userID, or returns nil
// if nothing is buffered. Caller must hold a.mu.
func (a *Aggregator) takeLocked(userID int64) *events.MessageGroup {
	buf, ok := a.buffers[userID]
	if !ok || len(buf.events) == 0 {
		return nil
	}
	delete(a.buffers, userID)
	if buf.timer != nil {
		buf.timer.Stop()
	}

	group := build(userID, buf.chatID, buf.events)
	return &group
}

func build(userID, chatID int64, evs []events.IncomingEvent) events.MessageGroup {
	texts := make([]string, 0, len(evs))
	var media []events.MediaRef
	var forwardSource string
	last := evs[0].Timestamp

	for _, e := range evs {
		if t := strings.TrimSpace(e.Text); t != "" {
			texts = append(texts, t)
		}
		media = append(media, e.Media...)
		if e.ForwardedFrom != nil && forwardSource == "" {
			forwardSource = e.ForwardedFrom.SourceID
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	combined := strings.Join(texts, "\n\n")
	digests := make([]string, 0, len(media))
	for _, m := range media {
		digests = append(digests, m.Digest)
	}
	sort.Strings(digests)

	return events.MessageGroup{
		UserID:             userID,
		ChatID:             chatID,
		Events:             append([]events.IncomingEvent(nil), evs...),
		CombinedText:       combined,
		CollectedMedia:     media,
		Fingerprint:        dedup.Fingerprint(combined, digests, forwardSource),
		LastEventTimestamp: last,
	}
}
