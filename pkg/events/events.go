// Package events defines the platform-neutral DTOs that cross the
// boundary between a chat transport and the rest of the gateway. Every
// downstream package (aggregator, router, kbservice) depends only on
// these types, never on a transport-specific message shape.
package events

import "time"

// ContentType classifies an IncomingEvent's payload for routing and
// fingerprinting purposes.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentPhoto      ContentType = "photo"
	ContentDocument   ContentType = "document"
	ContentForwarded  ContentType = "forwarded"
	ContentOther      ContentType = "other"
)

// MediaKind classifies one attached media item.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaRef is an opaque reference to a media attachment; only the Chat
// Port that produced it knows how to resolve OpaqueHandle into bytes.
type MediaRef struct {
	Kind         MediaKind
	OpaqueHandle string
	Caption      string
	FileName     string
	// Digest is populated once the Chat Port has downloaded the media and
	// computed its content hash; used in fingerprinting. Empty until resolved.
	Digest string
}

// ForwardedFrom identifies the original source of a forwarded message.
type ForwardedFrom struct {
	SourceID string
	Title    string
}

// IncomingEvent is the platform-neutral DTO produced at the chat
// transport boundary. It is immutable once constructed.
type IncomingEvent struct {
	EventID       string
	ChatID        int64
	UserID        int64
	Text          string
	ContentType   ContentType
	Timestamp     time.Time
	ForwardedFrom *ForwardedFrom
	Media         []MediaRef
	// MediaGroupID is the platform's album/group identifier, if any. Its
	// presence lets the aggregator bypass the idle wait and flush on the
	// last-seen event of the group.
	MediaGroupID string
}

// MessageGroup is a coalesced batch of events from one user, built by the
// aggregator and never mutated afterward.
type MessageGroup struct {
	UserID         int64
	ChatID         int64
	Events         []IncomingEvent
	CombinedText   string
	CollectedMedia []MediaRef
	Fingerprint    string
	// LastEventTimestamp orders groups within a user for the ordering
	// guarantee in the concurrency model.
	LastEventTimestamp time.Time
}
