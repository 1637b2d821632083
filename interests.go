package main

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

type interestView struct {
	store.Interest
	Profile *matching.Profile `json:"profile,omitempty"`
}

// /interests/{id}           POST express interest in id
// /interests/{id}/accept    POST accept id's interest in me
// /interests/{id}/reject    POST reject it
func interestDispatcher(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) < 2 || len(parts) > 3 || parts[0] != "interests" || parts[1] == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		targetID := parts[1]

		if len(parts) == 2 {
			expressInterest(a, w, r, targetID)
			return
		}
		switch parts[2] {
		case "accept":
			respondToInterest(a, w, r, targetID, store.InterestAccepted)
		case "reject":
			respondToInterest(a, w, r, targetID, store.InterestRejected)
		default:
			writeError(w, http.StatusNotFound, "not_found")
		}
	})
}

func expressInterest(a *app, w http.ResponseWriter, r *http.Request, targetID string) {
	me, _ := callerFrom(r.Context())
	if targetID == me.ID {
		writeError(w, http.StatusBadRequest, "invalid_target")
		return
	}
	if _, err := a.stores.Profiles.GetByUserID(r.Context(), targetID); err != nil {
		a.writeStoreError(w, r, err, "load target profile")
		return
	}

	in, err := a.stores.Interests.Express(r.Context(), me.ID, targetID)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "already_expressed")
		return
	}
	if err != nil {
		a.writeStoreError(w, r, err, "express interest")
		return
	}

	logging.For(r.Context(), a.log).Info("interest expressed",
		zap.String("target_id", targetID),
		zap.String("status", string(in.Status)),
	)
	a.hub.sendToUser(targetID, ServerEvent{Type: eventInterest, From: me.ID, Data: in})
	writeJSON(w, http.StatusCreated, in)
}

// respondToInterest resolves the pending interest senderID expressed in the caller.
func respondToInterest(a *app, w http.ResponseWriter, r *http.Request, senderID string, status store.InterestStatus) {
	me, _ := callerFrom(r.Context())

	current, err := a.stores.Interests.Get(r.Context(), senderID, me.ID)
	if err != nil {
		a.writeStoreError(w, r, err, "load interest")
		return
	}
	if current.Status != store.InterestPending {
		writeError(w, http.StatusConflict, "already_resolved")
		return
	}

	in, err := a.stores.Interests.SetStatus(r.Context(), senderID, me.ID, status)
	if err != nil {
		a.writeStoreError(w, r, err, "update interest")
		return
	}
	a.hub.sendToUser(senderID, ServerEvent{Type: eventInterest, From: me.ID, Data: in})
	writeJSON(w, http.StatusOK, in)
}

// GET /interests?direction=incoming|outgoing&status=
func interestsListHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		me, _ := callerFrom(r.Context())
		q := r.URL.Query()

		status := store.InterestStatus(q.Get("status"))
		switch status {
		case "", store.InterestPending, store.InterestAccepted, store.InterestRejected:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}

		var (
			list []store.Interest
			err  error
		)
		incoming := true
		switch q.Get("direction") {
		case "", "incoming":
			list, err = a.stores.Interests.ListIncoming(r.Context(), me.ID, status)
		case "outgoing":
			incoming = false
			list, err = a.stores.Interests.ListOutgoing(r.Context(), me.ID)
		default:
			writeError(w, http.StatusBadRequest, "invalid_direction")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "list interests")
			return
		}

		peerIDs := make([]string, 0, len(list))
		for _, in := range list {
			if status != "" && in.Status != status {
				continue
			}
			if incoming {
				peerIDs = append(peerIDs, in.FromUserID)
			} else {
				peerIDs = append(peerIDs, in.ToUserID)
			}
		}
		profiles, err := loadProfiles(r.Context(), a.loaders(r.Context()), peerIDs)
		if err != nil {
			a.writeStoreError(w, r, err, "load profiles")
			return
		}

		out := make([]interestView, 0, len(peerIDs))
		for _, in := range list {
			if status != "" && in.Status != status {
				continue
			}
			peer := in.ToUserID
			if incoming {
				peer = in.FromUserID
			}
			out = append(out, interestView{Interest: in, Profile: profiles[peer]})
		}
		writeJSON(w, http.StatusOK, map[string]any{"interests": out})
	})
}
