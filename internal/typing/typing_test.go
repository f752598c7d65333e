package typing

import (
	"testing"
	"time"

	"veche/internal/models"
	"veche/internal/rooms"
	"veche/internal/testutil"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Coordinator, *testutil.ManualScheduler, *testutil.Recorder) {
	t.Helper()
	m := rooms.New()
	m.Join("s1", "c1") // alice
	m.Join("s2", "c1") // bob
	m.Join("s3", "c1") // bob, second device

	clock := testutil.NewManualScheduler()
	rec := testutil.NewRecorder()
	c := New(Config{Rooms: m, Sender: rec, Scheduler: clock, Timeout: 3 * time.Second})
	return c, clock, rec
}

func updates(rec *testutil.Recorder, sessionID string) []models.TypingUpdate {
	var out []models.TypingUpdate
	for _, ev := range rec.OfType(sessionID, models.EventTypingUpdate) {
		out = append(out, ev.Data.(models.TypingUpdate))
	}
	return out
}

func TestCoordinator_StartBroadcastsExceptOrigin(t *testing.T) {
	c, _, rec := setup(t)

	c.Start("s2", "c1", "bob", "Bob")

	require.Empty(t, updates(rec, "s2"))
	got := updates(rec, "s1")
	require.Equal(t, []models.TypingUpdate{{ChatID: "c1", UserID: "bob", Name: "Bob", IsTyping: true}}, got)
	require.Len(t, updates(rec, "s3"), 1, "other devices of the typist are notified")
	require.True(t, c.IsTyping("c1", "bob"))
}

func TestCoordinator_ExpiresAfterTimeout(t *testing.T) {
	c, clock, rec := setup(t)

	c.Start("s2", "c1", "bob", "Bob")

	clock.Advance(2999 * time.Millisecond)
	require.Len(t, updates(rec, "s1"), 1, "must not expire early")
	require.True(t, c.IsTyping("c1", "bob"))

	clock.Advance(time.Millisecond)
	got := updates(rec, "s1")
	require.Len(t, got, 2)
	require.Equal(t, models.TypingUpdate{ChatID: "c1", UserID: "bob", IsTyping: false}, got[1])
	require.False(t, c.IsTyping("c1", "bob"))

	// Expiry goes to the whole room, origin included.
	require.Len(t, updates(rec, "s2"), 1)
}

func TestCoordinator_RefreshPushesExpiry(t *testing.T) {
	c, clock, rec := setup(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base.Add(clock.Elapsed()) }

	c.Start("s2", "c1", "bob", "Bob")
	deadline, ok := c.ExpiresAt("c1", "bob")
	require.True(t, ok)
	require.Equal(t, base.Add(3*time.Second), deadline)

	clock.Advance(2 * time.Second)
	c.Start("s2", "c1", "bob", "Bob")

	require.Len(t, updates(rec, "s1"), 2, "each refresh re-emits isTyping:true")
	require.Equal(t, 1, clock.Pending(), "refresh replaces the timer")
	deadline, ok = c.ExpiresAt("c1", "bob")
	require.True(t, ok)
	require.Equal(t, base.Add(5*time.Second), deadline)

	clock.Advance(2 * time.Second)
	require.True(t, c.IsTyping("c1", "bob"), "refreshed entry outlives the first deadline")

	clock.Advance(time.Second)
	got := updates(rec, "s1")
	require.Len(t, got, 3)
	require.False(t, got[2].IsTyping)
	require.Equal(t, 5*time.Second, clock.Elapsed())
	_, ok = c.ExpiresAt("c1", "bob")
	require.False(t, ok)
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	c, clock, rec := setup(t)

	c.Start("s2", "c1", "bob", "Bob")
	require.True(t, c.Stop("s2", "c1", "bob"))
	require.Equal(t, 0, clock.Pending())

	got := updates(rec, "s1")
	require.Len(t, got, 2)
	require.False(t, got[1].IsTyping)

	require.False(t, c.Stop("s2", "c1", "bob"))
	require.Len(t, updates(rec, "s1"), 2, "second stop broadcasts nothing")

	clock.Advance(10 * time.Second)
	require.Len(t, updates(rec, "s1"), 2, "cancelled timer never fires")
}

func TestCoordinator_DropSession(t *testing.T) {
	c, clock, rec := setup(t)

	c.Start("s2", "c1", "bob", "Bob")
	c.Start("s1", "c1", "alice", "Alice")

	require.Equal(t, 1, c.DropSession("s2"))
	require.False(t, c.IsTyping("c1", "bob"))
	require.True(t, c.IsTyping("c1", "alice"))
	require.Equal(t, 1, clock.Pending())

	got := updates(rec, "s1")
	require.Equal(t, models.TypingUpdate{ChatID: "c1", UserID: "bob", IsTyping: false}, got[len(got)-1])
}

func TestCoordinator_DropSessionKeepsNewerDevice(t *testing.T) {
	c, _, _ := setup(t)

	c.Start("s2", "c1", "bob", "Bob")
	c.Start("s3", "c1", "bob", "Bob")

	require.Equal(t, 0, c.DropSession("s2"))
	require.True(t, c.IsTyping("c1", "bob"))
}
