package main

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

type conversationsResponse struct {
	Conversations []conversationSummary `json:"conversations"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

func (e *testEnv) send(t *testing.T, from, to testUser, body string) store.Message {
	t.Helper()
	w := e.do(t, http.MethodPost, "/conversations/"+to.ID+"/messages", from.Token, map[string]string{"body": body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[store.Message](t, w)
}

func TestSendMessageRequiresMatch(t *testing.T) {
	e := newTestEnv(t)
	omar := e.member(t, "omar@example.com", memberSpec{Gender: matching.Male})
	layla := e.member(t, "layla@example.com", memberSpec{Gender: matching.Female})

	w := e.do(t, http.MethodPost, "/conversations/"+layla.ID+"/messages", omar.Token, map[string]string{"body": "salaam"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_connected", errorCode(t, w))

	// one-sided interest is not enough
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/interests/"+layla.ID, omar.Token, nil).Code)
	w = e.do(t, http.MethodPost, "/conversations/"+layla.ID+"/messages", omar.Token, map[string]string{"body": "salaam"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/interests/"+omar.ID+"/accept", layla.Token, nil).Code)
	msg := e.send(t, omar, layla, "  salaam  ")
	assert.Equal(t, "salaam", msg.Body)
	assert.Equal(t, store.ConversationID(omar.ID, layla.ID), msg.ConversationID)

	tests := []struct {
		name string
		to   string
		body string
		code string
	}{
		{"empty", layla.ID, "   ", "empty_message"},
		{"too long", layla.ID, strings.Repeat("a", maxMessageLen+1), "message_too_long"},
		{"self", omar.ID, "hi", "invalid_recipient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/conversations/"+tt.to+"/messages", omar.Token, map[string]string{"body": tt.body})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestConversationFlow(t *testing.T) {
	e := newTestEnv(t)
	omar := e.member(t, "omar@example.com", memberSpec{Gender: matching.Male})
	layla := e.member(t, "layla@example.com", memberSpec{Gender: matching.Female})
	e.mutualMatch(t, omar, layla)

	e.send(t, omar, layla, "first")
	e.send(t, omar, layla, "second")
	e.send(t, layla, omar, "reply")

	w := e.do(t, http.MethodGet, "/conversations", layla.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	convs := decodeBody[conversationsResponse](t, w).Conversations
	require.Len(t, convs, 1)
	c := convs[0]
	assert.Equal(t, omar.ID, c.PeerID)
	require.NotNil(t, c.Peer)
	assert.Equal(t, "omar@example.com", c.Peer.DisplayName)
	assert.Equal(t, "reply", c.LastMessage)
	assert.Equal(t, layla.ID, c.LastSenderID)
	assert.Equal(t, 2, c.Unread)
	assert.True(t, c.PeerOnline)

	w = e.do(t, http.MethodGet, "/conversations/"+omar.ID+"/messages", layla.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decodeBody[messagesResponse](t, w).Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "reply", msgs[0].Body, "newest first")
	assert.Equal(t, "first", msgs[2].Body)

	w = e.do(t, http.MethodGet, "/conversations/"+omar.ID+"/messages?limit=1", layla.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[messagesResponse](t, w).Messages, 1)

	before := url.QueryEscape(msgs[0].CreatedAt.Add(time.Nanosecond).Format(time.RFC3339Nano))
	w = e.do(t, http.MethodGet, "/conversations/"+omar.ID+"/messages?before="+before, layla.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[messagesResponse](t, w).Messages, 3)

	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/conversations/"+omar.ID+"/read", layla.Token, nil).Code)
	w = e.do(t, http.MethodGet, "/conversations", layla.Token, nil)
	assert.Equal(t, 0, decodeBody[conversationsResponse](t, w).Conversations[0].Unread)

	w = e.do(t, http.MethodGet, "/conversations", omar.Token, nil)
	assert.Equal(t, 1, decodeBody[conversationsResponse](t, w).Conversations[0].Unread)

	t.Run("bad requests", func(t *testing.T) {
		path := "/conversations/" + omar.ID + "/messages"
		assert.Equal(t, "invalid_limit", errorCode(t, e.do(t, http.MethodGet, path+"?limit=0", layla.Token, nil)))
		assert.Equal(t, "invalid_limit", errorCode(t, e.do(t, http.MethodGet, path+"?limit=ten", layla.Token, nil)))
		assert.Equal(t, "invalid_before", errorCode(t, e.do(t, http.MethodGet, path+"?before=yesterday", layla.Token, nil)))

		w := e.do(t, http.MethodPost, "/conversations/stranger/read", layla.Token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = e.do(t, http.MethodGet, "/conversations/"+omar.ID+"/archive", layla.Token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty history", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/conversations/stranger/messages", layla.Token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
	})
}
