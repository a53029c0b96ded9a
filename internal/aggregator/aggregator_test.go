package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteforge/noteforge/pkg/events"
)

func TestAddFlushesAfterIdleTimeout(t *testing.T) {
	a := New(50 * time.Millisecond)
	a.Add(events.IncomingEvent{UserID: 1, ChatID: 10, Text: "hello", Timestamp: time.Now()})

	select {
	case g := <-a.Out():
		require.Equal(t, int64(1), g.UserID)
		require.Equal(t, "hello", g.CombinedText)
	case <-time.After(time.Second):
		t.Fatal("group was not emitted")
	}
}

func TestAddCoalescesWithinIdleWindow(t *testing.T) {
	a := New(100 * time.Millisecond)
	now := time.Now()
	a.Add(events.IncomingEvent{UserID: 1, ChatID: 10, Text: "first", Timestamp: now})
	time.Sleep(30 * time.Millisecond)
	a.Add(events.IncomingEvent{UserID: 1, ChatID: 10, Text: "second", Timestamp: now.Add(30 * time.Millisecond)})

	select {
	case g := <-a.Out():
		require.Equal(t, "first\n\nsecond", g.CombinedText)
		require.Len(t, g.Events, 2)
	case <-time.After(time.Second):
		t.Fatal("group was not emitted")
	}
}

func TestExplicitFlushEmitsImmediately(t *testing.T) {
	a := New(time.Minute)
	a.Add(events.IncomingEvent{UserID: 7, ChatID: 1, Text: "note", Timestamp: time.Now()})
	a.Flush(7)

	select {
	case g := <-a.Out():
		require.Equal(t, int64(7), g.UserID)
	case <-time.After(time.Second):
		t.Fatal("flush did not emit")
	}
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	a := New(time.Minute)
	a.Flush(99)
	select {
	case <-a.Out():
		t.Fatal("unexpected emission")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyTextMediaOnlyProducesValidGroup(t *testing.T) {
	a := New(30 * time.Millisecond)
	a.Add(events.IncomingEvent{
		UserID:      2,
		ChatID:      1,
		ContentType: events.ContentPhoto,
		Timestamp:   time.Now(),
		Media:       []events.MediaRef{{Kind: events.MediaImage, Digest: "abc123"}},
	})

	select {
	case g := <-a.Out():
		require.Equal(t, "", g.CombinedText)
		require.NotEmpty(t, g.Fingerprint)
		require.Len(t, g.CollectedMedia, 1)
	case <-time.After(time.Second):
		t.Fatal("group was not emitted")
	}
}

func TestUsersAreIndependentBuffers(t *testing.T) {
	a := New(40 * time.Millisecond)
	a.Add(events.IncomingEvent{UserID: 1, ChatID: 1, Text: "a", Timestamp: time.Now()})
	a.Add(events.IncomingEvent{UserID: 2, ChatID: 2, Text: "b", Timestamp: time.Now()})

	seen := map[int64]string{}
	for i := 0; i < 2; i++ {
		select {
		case g := <-a.Out():
			seen[g.UserID] = g.CombinedText
		case <-time.After(time.Second):
			t.Fatal("missing emission")
		}
	}
	require.Equal(t, "a", seen[1])
	require.Equal(t, "b", seen[2])
}

func TestMediaGroupBypassesIdleWait(t *testing.T) {
	a := New(time.Minute)
	now := time.Now()
	a.Add(events.IncomingEvent{UserID: 3, ChatID: 1, MediaGroupID: "album1", Timestamp: now, Media: []events.MediaRef{{Digest: "d1"}}})
	a.Add(events.IncomingEvent{UserID: 3, ChatID: 1, MediaGroupID: "album1", Timestamp: now.Add(time.Millisecond), Media: []events.MediaRef{{Digest: "d2"}}})

	select {
	case g := <-a.Out():
		require.Len(t, g.CollectedMedia, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("media group did not flush on settle window")
	}
}
