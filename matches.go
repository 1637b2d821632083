package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

var errIncompleteProfile = errors.New("profile or rights missing")

type matchView struct {
	UserID              string                      `json:"user_id"`
	Score               int                         `json:"score"`
	Band                matching.Band               `json:"band"`
	Breakdown           matching.Breakdown          `json:"breakdown"`
	RightsCompatibility map[matching.RightKind]bool `json:"rights_compatibility"`
	Profile             matching.Profile            `json:"profile"`
}

// loadSeeker gathers the caller's own records. Missing preferences fall back
// to the defaults; a missing profile or rights record is errIncompleteProfile.
func (a *app) loadSeeker(ctx context.Context, userID string) (matching.Seeker, error) {
	profile, err := a.stores.Profiles.GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return matching.Seeker{}, errIncompleteProfile
	}
	if err != nil {
		return matching.Seeker{}, err
	}
	rights, err := a.stores.Rights.GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return matching.Seeker{}, errIncompleteProfile
	}
	if err != nil {
		return matching.Seeker{}, err
	}
	prefs, err := a.stores.Preferences.GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		prefs, err = matching.DefaultPreferences(userID), nil
	}
	if err != nil {
		return matching.Seeker{}, err
	}
	return matching.Seeker{Profile: *profile, Rights: rights, Preferences: prefs}, nil
}

// excludedFor lists users the caller dismissed or already expressed interest in.
func (a *app) excludedFor(ctx context.Context, userID string) (map[string]bool, error) {
	dismissed, err := a.stores.Interests.ListDismissed(ctx, userID)
	if err != nil {
		return nil, err
	}
	outgoing, err := a.stores.Interests.ListOutgoing(ctx, userID)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(dismissed)+len(outgoing))
	for _, id := range dismissed {
		excluded[id] = true
	}
	for _, in := range outgoing {
		excluded[in.ToUserID] = true
	}
	return excluded, nil
}

// rankFor runs one ranking pass for userID inside a matches.rank span.
func (a *app) rankFor(ctx context.Context, userID string) ([]matching.Match, error) {
	ctx, span := a.tracer.Start(ctx, "matches.rank")
	defer span.End()

	fail := func(err error) ([]matching.Match, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	seeker, err := a.loadSeeker(ctx, userID)
	if err != nil {
		return fail(err)
	}
	pool, err := a.stores.Profiles.ListCandidates(ctx, userID, seeker.Profile.Gender)
	if err != nil {
		return fail(err)
	}
	excluded, err := a.excludedFor(ctx, userID)
	if err != nil {
		return fail(err)
	}

	ids := make([]string, 0, len(pool))
	kept := make([]matching.Profile, 0, len(pool))
	for _, p := range pool {
		if excluded[p.UserID] {
			continue
		}
		ids = append(ids, p.UserID)
		kept = append(kept, p)
	}
	rights, err := loadRights(ctx, a.loaders(ctx), ids)
	if err != nil {
		return fail(err)
	}
	candidates := make([]matching.Candidate, len(kept))
	for i, p := range kept {
		candidates[i] = matching.Candidate{Profile: p, Rights: rights[i]}
	}

	skipped := 0
	ranker := matching.NewRanker(
		matching.WithLogger(logging.For(ctx, a.log)),
		matching.WithMinScore(a.cfg.Matching.MinScore),
		matching.WithLimit(a.cfg.Matching.Limit),
		matching.WithSkipObserver(func(matching.SkippedCandidate) { skipped++ }),
	)

	start := time.Now()
	matches, err := ranker.Rank(seeker, candidates)
	elapsed := time.Since(start)
	if err != nil {
		return fail(err)
	}

	filtered := len(pool) - len(candidates)
	a.metrics.observeRank(elapsed.Seconds(), len(candidates)-skipped, skipped, filtered)
	span.SetAttributes(
		attribute.Int("matches.pool", len(pool)),
		attribute.Int("matches.eligible", len(candidates)),
		attribute.Int("matches.skipped", skipped),
		attribute.Int("matches.results", len(matches)),
	)
	return matches, nil
}

// GET /matches
func matchesHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		me, _ := callerFrom(r.Context())

		matches, err := a.rankFor(r.Context(), me.ID)
		if errors.Is(err, errIncompleteProfile) {
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "rank matches")
			return
		}

		out := make([]matchView, 0, len(matches))
		for _, m := range matches {
			out = append(out, matchView{
				UserID:              m.Result.MatchedUserID,
				Score:               m.Result.Score,
				Band:                m.Result.Band,
				Breakdown:           m.Result.Breakdown,
				RightsCompatibility: m.Result.RightsCompatibility,
				Profile:             m.Profile,
			})
		}
		logging.For(r.Context(), a.log).Debug("matches ranked", zap.Int("count", len(out)))
		writeJSON(w, http.StatusOK, map[string]any{"matches": out})
	})
}

// POST /matches/{id}/dismiss
func matchDispatcher(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) != 3 || parts[0] != "matches" || parts[2] != "dismiss" || parts[1] == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		me, _ := callerFrom(r.Context())
		targetID := parts[1]
		if targetID == me.ID {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}
		if _, err := a.stores.Profiles.GetByUserID(r.Context(), targetID); err != nil {
			a.writeStoreError(w, r, err, "load target profile")
			return
		}
		if err := a.stores.Interests.Dismiss(r.Context(), me.ID, targetID); err != nil {
			a.writeStoreError(w, r, err, "dismiss match")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
