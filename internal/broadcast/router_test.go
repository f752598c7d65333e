package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"veche/internal/models"
	"veche/internal/rooms"
	"veche/internal/testutil"

	"github.com/stretchr/testify/require"
)

func setup() (*Router, *testutil.Recorder) {
	m := rooms.New()
	m.Join("s1", "c1")
	m.Join("s2", "c1")
	m.Join("s3", "c2")

	rec := testutil.NewRecorder()
	r := New(m, rec, nil)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r, rec
}

func TestRouter_NewSkipsOrigin(t *testing.T) {
	r, rec := setup()

	n := r.BroadcastNew("s1", models.Message{ID: "m1", Chat: "c1", Content: "hi"})
	require.Equal(t, 1, n)
	require.Empty(t, rec.Events("s1"))
	got := rec.OfType("s2", models.EventMessageReceived)
	require.Len(t, got, 1)
	require.Equal(t, "hi", got[0].Data.(models.MessageEnvelope).Message.Content)
	require.Empty(t, rec.Events("s3"))
}

func TestRouter_NormalizesPopulatedChat(t *testing.T) {
	r, rec := setup()

	var msg models.Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","chat":{"_id":"c1","name":"General"},"content":"x"}`), &msg))

	require.Equal(t, 2, r.BroadcastUpdated(msg))
	require.Len(t, rec.OfType("s1", models.EventMessageUpdated), 1)
	require.Len(t, rec.OfType("s2", models.EventMessageUpdated), 1)
}

func TestRouter_DeletedAndRead(t *testing.T) {
	r, rec := setup()

	r.BroadcastDeleted("m1", "c1")
	r.BroadcastReadReceipt("m2", "c1", "bob")

	events := rec.Events("s1")
	require.Len(t, events, 2)
	require.Equal(t, models.MessageDeleted{MessageID: "m1", ChatID: "c1", Timestamp: time.Unix(1700000000, 0)}, events[0].Data)
	require.Equal(t, models.MessageReadUpdate{MessageID: "m2", UserID: "bob", ChatID: "c1", Timestamp: time.Unix(1700000000, 0)}, events[1].Data)
}

func TestRouter_MissingChatIsDropped(t *testing.T) {
	r, rec := setup()
	require.Equal(t, 0, r.BroadcastUpdated(models.Message{ID: "m1"}))
	require.Empty(t, rec.Sessions())
}
