package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

type wireEvent struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	evt := readEvent(t, conn)
	require.Equal(t, eventInfo, evt.Type)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt wireEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestWebsocketAuth(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	u := e.register(t, "ws@example.com")
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+u.Token, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebsocketChat(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	omar := e.member(t, "omar@example.com", memberSpec{Gender: matching.Male})
	layla := e.member(t, "layla@example.com", memberSpec{Gender: matching.Female})

	omarConn := dialWS(t, srv, omar.Token)
	laylaConn := dialWS(t, srv, layla.Token)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.app.metrics.wsConnections))
	assert.True(t, e.app.hub.connected(omar.ID))

	t.Run("not connected yet", func(t *testing.T) {
		require.NoError(t, omarConn.WriteJSON(ClientMessage{Type: eventMessage, To: layla.ID, Body: "hi"}))
		evt := readEvent(t, omarConn)
		assert.Equal(t, eventError, evt.Type)
		assert.JSONEq(t, `"not_connected"`, string(evt.Data))

		require.NoError(t, omarConn.WriteJSON(ClientMessage{Type: eventTyping, To: layla.ID}))
		assert.Equal(t, eventError, readEvent(t, omarConn).Type)
	})

	t.Run("interest events", func(t *testing.T) {
		require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/interests/"+layla.ID, omar.Token, nil).Code)
		evt := readEvent(t, laylaConn)
		assert.Equal(t, eventInterest, evt.Type)
		assert.Equal(t, omar.ID, evt.From)

		require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/interests/"+omar.ID+"/accept", layla.Token, nil).Code)
		evt = readEvent(t, omarConn)
		assert.Equal(t, eventInterest, evt.Type)
		var in store.Interest
		require.NoError(t, json.Unmarshal(evt.Data, &in))
		assert.Equal(t, store.InterestAccepted, in.Status)
	})

	t.Run("message relay", func(t *testing.T) {
		require.NoError(t, omarConn.WriteJSON(ClientMessage{Type: eventMessage, To: layla.ID, Body: "salaam"}))

		for _, conn := range []*websocket.Conn{laylaConn, omarConn} {
			evt := readEvent(t, conn)
			require.Equal(t, eventMessage, evt.Type)
			assert.Equal(t, omar.ID, evt.From)
			var msg store.Message
			require.NoError(t, json.Unmarshal(evt.Data, &msg))
			assert.Equal(t, "salaam", msg.Body)
			assert.Equal(t, layla.ID, msg.ReceiverID)
		}

		msgs, err := e.stores.Messages.ListMessages(context.Background(), store.ConversationID(omar.ID, layla.ID), 10, nil)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("typing", func(t *testing.T) {
		require.NoError(t, laylaConn.WriteJSON(ClientMessage{Type: eventTyping, To: omar.ID}))
		evt := readEvent(t, omarConn)
		assert.Equal(t, eventTyping, evt.Type)
		assert.Equal(t, layla.ID, evt.From)
	})

	t.Run("bad frames", func(t *testing.T) {
		require.NoError(t, laylaConn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		assert.Equal(t, eventError, readEvent(t, laylaConn).Type)

		require.NoError(t, laylaConn.WriteJSON(ClientMessage{Type: "wave", To: omar.ID}))
		evt := readEvent(t, laylaConn)
		assert.Equal(t, eventError, evt.Type)
		assert.JSONEq(t, `"unknown message type"`, string(evt.Data))
	})

	require.NoError(t, laylaConn.Close())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.app.metrics.wsConnections) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.app.hub.connected(layla.ID))
}

func TestHub(t *testing.T) {
	var open int
	h := newHub(func(delta int) { open += delta })

	a1 := &Client{userID: "a", send: make(chan ServerEvent, 1)}
	a2 := &Client{userID: "a", send: make(chan ServerEvent, 1)}
	h.register(a1)
	h.register(a2)
	assert.Equal(t, 2, open)
	assert.True(t, h.connected("a"))
	assert.False(t, h.connected("b"))

	assert.Equal(t, 2, h.sendToUser("a", ServerEvent{Type: eventInfo}))
	// buffers are full now; the event is dropped rather than blocking
	assert.Equal(t, 0, h.sendToUser("a", ServerEvent{Type: eventInfo}))
	assert.Equal(t, 0, h.sendToUser("b", ServerEvent{Type: eventInfo}))

	h.unregister(a1)
	h.unregister(a1)
	assert.Equal(t, 1, open)
	_, ok := <-a1.send
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-a1.send
	assert.False(t, ok, "send is closed on unregister")

	h.unregister(a2)
	assert.Equal(t, 0, open)
	assert.False(t, h.connected("a"))
}
