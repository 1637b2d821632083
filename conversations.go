package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

const (
	maxMessageLen       = 2000
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var (
	errNotConnected   = errors.New("no accepted interest between users")
	errEmptyMessage   = errors.New("message body is empty")
	errMessageTooLong = errors.New("message body is too long")
	errSelfMessage    = errors.New("cannot message yourself")
)

// messageErrorCode maps delivery failures to the codes clients see.
func messageErrorCode(err error) string {
	switch {
	case errors.Is(err, errNotConnected):
		return "not_connected"
	case errors.Is(err, errEmptyMessage):
		return "empty_message"
	case errors.Is(err, errMessageTooLong):
		return "message_too_long"
	case errors.Is(err, errSelfMessage):
		return "invalid_recipient"
	}
	return "cannot_send_message"
}

// canMessage reports whether an accepted interest links the two users in either direction.
func (a *app) canMessage(ctx context.Context, userA, userB string) (bool, error) {
	if userA == "" || userB == "" || userA == userB {
		return false, nil
	}
	for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
		in, err := a.stores.Interests.Get(ctx, pair[0], pair[1])
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if in.Status == store.InterestAccepted {
			return true, nil
		}
	}
	return false, nil
}

// deliverMessage validates, stores and pushes a message to both participants.
func (a *app) deliverMessage(ctx context.Context, from, to, body string) (*store.Message, error) {
	body = strings.TrimSpace(body)
	switch {
	case from == to:
		return nil, errSelfMessage
	case body == "":
		return nil, errEmptyMessage
	case utf8.RuneCountInString(body) > maxMessageLen:
		return nil, errMessageTooLong
	}

	ok, err := a.canMessage(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotConnected
	}

	msg, err := a.stores.Messages.SaveMessage(ctx, from, to, body)
	if err != nil {
		logging.For(ctx, a.log).Error("save message failed", zap.Error(err))
		return nil, err
	}

	evt := ServerEvent{Type: eventMessage, From: from, Data: msg}
	a.hub.sendToUser(to, evt)
	a.hub.sendToUser(from, evt)
	return msg, nil
}

type conversationSummary struct {
	ID            string            `json:"id"`
	Peer          *matching.Profile `json:"peer"`
	PeerID        string            `json:"peer_id"`
	PeerOnline    bool              `json:"peer_online"`
	LastMessage   string            `json:"last_message"`
	LastSenderID  string            `json:"last_sender_id"`
	LastMessageAt time.Time         `json:"last_message_at"`
	Unread        int               `json:"unread"`
}

// GET /conversations
func conversationsHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		me, _ := callerFrom(r.Context())

		convs, err := a.stores.Messages.ListConversations(r.Context(), me.ID)
		if err != nil {
			a.writeStoreError(w, r, err, "list conversations")
			return
		}

		peerIDs := make([]string, 0, len(convs))
		for i := range convs {
			peerIDs = append(peerIDs, convs[i].Peer(me.ID))
		}
		profiles, err := loadProfiles(r.Context(), a.loaders(r.Context()), peerIDs)
		if err != nil {
			a.writeStoreError(w, r, err, "load peer profiles")
			return
		}

		out := make([]conversationSummary, 0, len(convs))
		for i, c := range convs {
			peer := peerIDs[i]
			out = append(out, conversationSummary{
				ID:            c.ID,
				Peer:          profiles[peer],
				PeerID:        peer,
				PeerOnline:    a.isOnline(r.Context(), peer),
				LastMessage:   c.LastMessage,
				LastSenderID:  c.LastSenderID,
				LastMessageAt: c.LastMessageAt,
				Unread:        c.Unread[me.ID],
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
	})
}

// /conversations/{peerId}/messages  GET history, POST send
// /conversations/{peerId}/read      POST
func conversationDispatcher(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) != 3 || parts[0] != "conversations" || parts[1] == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		peerID := parts[1]

		switch parts[2] {
		case "messages":
			if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
				return
			}
			if r.Method == http.MethodGet {
				listMessages(a, w, r, peerID)
				return
			}
			sendMessage(a, w, r, peerID)
		case "read":
			if !allowMethods(w, r, http.MethodPost) {
				return
			}
			markRead(a, w, r, peerID)
		default:
			writeError(w, http.StatusNotFound, "not_found")
		}
	})
}

func listMessages(a *app, w http.ResponseWriter, r *http.Request, peerID string) {
	me, _ := callerFrom(r.Context())

	limit, ok := queryInt(r, "limit", defaultMessageLimit)
	if !ok || limit == 0 {
		writeError(w, http.StatusBadRequest, "invalid_limit")
		return
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	before, ok := queryTime(r, "before")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_before")
		return
	}

	msgs, err := a.stores.Messages.ListMessages(r.Context(), store.ConversationID(me.ID, peerID), limit, before)
	if err != nil {
		a.writeStoreError(w, r, err, "list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func sendMessage(a *app, w http.ResponseWriter, r *http.Request, peerID string) {
	me, _ := callerFrom(r.Context())

	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := a.deliverMessage(r.Context(), me.ID, peerID, req.Body)
	switch {
	case errors.Is(err, errNotConnected):
		writeError(w, http.StatusForbidden, messageErrorCode(err))
	case errors.Is(err, errEmptyMessage), errors.Is(err, errMessageTooLong), errors.Is(err, errSelfMessage):
		writeError(w, http.StatusBadRequest, messageErrorCode(err))
	case err != nil:
		a.writeStoreError(w, r, err, "send message")
	default:
		writeJSON(w, http.StatusCreated, msg)
	}
}

func markRead(a *app, w http.ResponseWriter, r *http.Request, peerID string) {
	me, _ := callerFrom(r.Context())
	if err := a.stores.Messages.MarkRead(r.Context(), store.ConversationID(me.ID, peerID), me.ID); err != nil {
		a.writeStoreError(w, r, err, "mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
