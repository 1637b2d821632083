package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
)

// onlineWindow is how recently a user must have been seen to count as online.
const onlineWindow = 90 * time.Second

// POST /me/ping
func mePingHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		me, _ := callerFrom(r.Context())
		if err := a.stores.Users.TouchLastOnline(r.Context(), me.ID, a.now()); err != nil {
			a.writeStoreError(w, r, err, "touch last online")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// touchLastOnline is best effort; presence never fails a request.
func (a *app) touchLastOnline(ctx context.Context, userID string) {
	if err := a.stores.Users.TouchLastOnline(ctx, userID, a.now()); err != nil {
		logging.For(ctx, a.log).Warn("failed to update last_online", zap.Error(err))
	}
}

// isOnline reports whether userID was seen within onlineWindow or holds an
// open websocket.
func (a *app) isOnline(ctx context.Context, userID string) bool {
	if a.hub.connected(userID) {
		return true
	}
	u, err := a.stores.Users.GetByID(ctx, userID)
	if err != nil || u.LastOnline == nil {
		return false
	}
	return a.now().Sub(*u.LastOnline) < onlineWindow
}
