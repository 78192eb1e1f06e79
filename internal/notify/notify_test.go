package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/models"
	"go.uber.org/zap"
)

func testFill(userID int64) models.Fill {
	return models.Fill{UserID: userID, OrderID: 42, Symbol: "SYM", Side: models.Buy, Status: models.StatusFilled}
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, 7)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections(7) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), testFill(8)))
	require.NoError(t, hub.Notify(context.Background(), testFill(7)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventOrderMatched, msg.Event)
	assert.Equal(t, "private-user.7", msg.Channel)
	assert.Equal(t, int64(42), msg.Payload.OrderID)
	assert.Equal(t, models.StatusFilled, msg.Payload.Status)
	assert.Contains(t, string(data), `"status":"filled"`)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connections(7) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_NotifyWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.NoError(t, hub.Notify(context.Background(), testFill(1)))
	assert.Equal(t, 0, hub.Connections(1))
}

type funcNotifier func(ctx context.Context, fill models.Fill) error

func (f funcNotifier) Notify(ctx context.Context, fill models.Fill) error { return f(ctx, fill) }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	var delivered []int64
	ok := funcNotifier(func(ctx context.Context, fill models.Fill) error {
		delivered = append(delivered, fill.UserID)
		return nil
	})
	failing := funcNotifier(func(ctx context.Context, fill models.Fill) error { return boom })

	err := Multi{failing, ok, Nop{}}.Notify(context.Background(), testFill(3))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int64{3}, delivered)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), testFill(4)))
	assert.Equal(t, []int64{3, 4}, delivered)
}

func TestFillMessage(t *testing.T) {
	msg, err := fillMessage(testFill(12))
	require.NoError(t, err)
	assert.Equal(t, "12", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventOrderMatched, string(msg.Headers[0].Value))

	var decoded Message
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, Channel(12), decoded.Channel)
	assert.Equal(t, models.Buy, decoded.Payload.Side)
}
