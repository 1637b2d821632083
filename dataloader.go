package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

type loadersKey struct{}

// Loaders batch and cache record lookups for the lifetime of one request.
type Loaders struct {
	Rights   *dataloader.Loader[string, *matching.RightsAdjustment]
	Profiles *dataloader.Loader[string, *matching.Profile]
}

func NewLoaders(stores *store.Stores) *Loaders {
	return &Loaders{
		Rights:   dataloader.NewBatchedLoader(rightsBatchFn(stores.Rights), dataloader.WithWait[string, *matching.RightsAdjustment](16*time.Millisecond)),
		Profiles: dataloader.NewBatchedLoader(profileBatchFn(stores.Profiles), dataloader.WithWait[string, *matching.Profile](16*time.Millisecond)),
	}
}

func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey{}, l)
}

// LoadersFrom returns the request's loaders, or nil outside withDataLoaders.
func LoadersFrom(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey{}).(*Loaders)
	return l
}

// withDataLoaders gives every request fresh loaders so nothing is cached across requests.
func (a *app) withDataLoaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithLoaders(r.Context(), NewLoaders(a.stores))))
	})
}

func (a *app) loaders(ctx context.Context) *Loaders {
	if l := LoadersFrom(ctx); l != nil {
		return l
	}
	return NewLoaders(a.stores)
}

// rightsBatchFn resolves a batch with a single GetByUserIDs call. Users
// without a record resolve to nil, not an error.
func rightsBatchFn(rs store.RightsStore) dataloader.BatchFunc[string, *matching.RightsAdjustment] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*matching.RightsAdjustment] {
		results := make([]*dataloader.Result[*matching.RightsAdjustment], len(keys))

		found, err := rs.GetByUserIDs(ctx, keys)
		for i, key := range keys {
			if err != nil {
				results[i] = &dataloader.Result[*matching.RightsAdjustment]{Error: err}
				continue
			}
			results[i] = &dataloader.Result[*matching.RightsAdjustment]{Data: found[key]}
		}
		return results
	}
}

// profileBatchFn has no batch query to lean on; it still dedupes keys within a request.
func profileBatchFn(ps store.ProfileStore) dataloader.BatchFunc[string, *matching.Profile] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*matching.Profile] {
		results := make([]*dataloader.Result[*matching.Profile], len(keys))
		for i, key := range keys {
			p, err := ps.GetByUserID(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				p, err = nil, nil
			}
			results[i] = &dataloader.Result[*matching.Profile]{Data: p, Error: err}
		}
		return results
	}
}

// loadRights resolves the rights of ids in order.
func loadRights(ctx context.Context, l *Loaders, ids []string) ([]*matching.RightsAdjustment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rights, errs := l.Rights.LoadMany(ctx, ids)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return rights, nil
}

// loadProfiles resolves profiles keyed by user id; unknown users are absent.
func loadProfiles(ctx context.Context, l *Loaders, ids []string) (map[string]*matching.Profile, error) {
	out := make(map[string]*matching.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	profiles, errs := l.Profiles.LoadMany(ctx, ids)()
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if profiles[i] != nil {
			out[id] = profiles[i]
		}
	}
	return out, nil
}
