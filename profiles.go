package main

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

const (
	maxBioLen         = 500
	maxExplanationLen = 1000
	maxDisplayNameLen = 80
	maxLanguages      = 10
)

type profileRequest struct {
	DisplayName       string                     `json:"display_name"`
	Gender            matching.Gender            `json:"gender"`
	Age               int                        `json:"age"`
	Location          string                     `json:"location"`
	Occupation        string                     `json:"occupation"`
	Education         string                     `json:"education"`
	ReligiousPractice matching.ReligiousPractice `json:"religious_practice"`
	Bio               string                     `json:"bio"`
	Languages         []string                   `json:"languages"`
}

func (req profileRequest) validate() error {
	if name := strings.TrimSpace(req.DisplayName); name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
		return &matching.InputError{Field: "profile.display_name", Reason: "must be 1 to 80 characters"}
	}
	if utf8.RuneCountInString(req.Bio) > maxBioLen {
		return &matching.InputError{Field: "profile.bio", Reason: "must be at most 500 characters"}
	}
	if len(req.Languages) > maxLanguages {
		return &matching.InputError{Field: "profile.languages", Reason: "too many languages"}
	}
	return nil
}

// GET|PUT /me/profile
func myProfileHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
			return
		}
		me, _ := callerFrom(r.Context())

		if r.Method == http.MethodGet {
			p, err := a.stores.Profiles.GetByUserID(r.Context(), me.ID)
			if err != nil {
				a.writeStoreError(w, r, err, "load profile")
				return
			}
			writeJSON(w, http.StatusOK, p)
			return
		}

		var req profileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.validate(); err != nil {
			writeInputError(w, err)
			return
		}

		p := &matching.Profile{
			UserID:            me.ID,
			DisplayName:       strings.TrimSpace(req.DisplayName),
			Gender:            req.Gender,
			Age:               req.Age,
			Location:          strings.TrimSpace(req.Location),
			Occupation:        strings.TrimSpace(req.Occupation),
			Education:         strings.TrimSpace(req.Education),
			ReligiousPractice: req.ReligiousPractice,
			Bio:               strings.TrimSpace(req.Bio),
			Languages:         req.Languages,
		}
		if err := matching.ValidateProfile(*p); err != nil {
			writeInputError(w, err)
			return
		}

		// The photo is managed by /me/photo; keep it across profile edits.
		existing, err := a.stores.Profiles.GetByUserID(r.Context(), me.ID)
		switch {
		case err == nil:
			p.PhotoURL = existing.PhotoURL
		case !errors.Is(err, store.ErrNotFound):
			a.writeStoreError(w, r, err, "load profile")
			return
		}

		if err := a.stores.Profiles.Save(r.Context(), p); err != nil {
			a.writeStoreError(w, r, err, "save profile")
			return
		}
		saved, err := a.stores.Profiles.GetByUserID(r.Context(), me.ID)
		if err != nil {
			a.writeStoreError(w, r, err, "load profile")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	})
}

type rightsResponse struct {
	Gender      matching.Gender        `json:"gender"`
	Rights      map[string]bool        `json:"rights"`
	Explanation string                 `json:"explanation"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Catalog     []matching.RightOption `json:"catalog"`
}

type rightsRequest struct {
	Rights      map[string]bool `json:"rights"`
	Explanation string          `json:"explanation"`
}

// GET|PUT /me/rights. Keys are the caller's own gender framing; canonical
// kind names are accepted too.
func myRightsHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
			return
		}
		me, _ := callerFrom(r.Context())

		profile, err := a.stores.Profiles.GetByUserID(r.Context(), me.ID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusConflict, "profile_required")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "load profile")
			return
		}

		if r.Method == http.MethodGet {
			ra, err := a.stores.Rights.GetByUserID(r.Context(), me.ID)
			if err != nil {
				a.writeStoreError(w, r, err, "load rights")
				return
			}
			writeJSON(w, http.StatusOK, rightsView(profile.Gender, ra))
			return
		}

		var req rightsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ra, err := parseRightsRequest(me.ID, profile.Gender, req)
		if err != nil {
			writeInputError(w, err)
			return
		}
		if err := a.stores.Rights.Save(r.Context(), ra); err != nil {
			a.writeStoreError(w, r, err, "save rights")
			return
		}
		writeJSON(w, http.StatusOK, rightsView(profile.Gender, ra))
	})
}

// parseRightsRequest maps gender-framed keys to canonical kinds and fills in
// the rest of the catalog as unwilling.
func parseRightsRequest(userID string, gender matching.Gender, req rightsRequest) (*matching.RightsAdjustment, error) {
	if len(req.Rights) == 0 {
		return nil, &matching.InputError{Field: "rights", Reason: "no rights declared"}
	}
	if utf8.RuneCountInString(req.Explanation) > maxExplanationLen {
		return nil, &matching.InputError{Field: "explanation", Reason: "must be at most 1000 characters"}
	}

	adj := make(map[matching.RightKind]bool, len(req.Rights))
	for key, willing := range req.Rights {
		kind, err := matching.ParseRightKey(gender, key)
		if err != nil {
			return nil, err
		}
		adj[kind] = adj[kind] || willing
	}
	return &matching.RightsAdjustment{
		UserID:      userID,
		Adjustments: matching.NormalizeAdjustments(adj),
		Explanation: strings.TrimSpace(req.Explanation),
	}, nil
}

func rightsView(gender matching.Gender, ra *matching.RightsAdjustment) rightsResponse {
	return rightsResponse{
		Gender:      gender,
		Rights:      matching.Keyed(gender, ra.Adjustments),
		Explanation: ra.Explanation,
		UpdatedAt:   ra.UpdatedAt,
		Catalog:     matching.Catalog(gender),
	}
}

type preferencesRequest struct {
	AgeRange          matching.AgeRange            `json:"age_range"`
	Locations         []string                     `json:"locations"`
	ReligiousPractice []matching.ReligiousPractice `json:"religious_practice"`
}

// GET|PUT /me/preferences. A user who never saved preferences sees the defaults.
func myPreferencesHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
			return
		}
		me, _ := callerFrom(r.Context())

		if r.Method == http.MethodGet {
			prefs, err := a.preferencesFor(r, me.ID)
			if err != nil {
				a.writeStoreError(w, r, err, "load preferences")
				return
			}
			writeJSON(w, http.StatusOK, prefs)
			return
		}

		var req preferencesRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		prefs := matching.DefaultPreferences(me.ID)
		prefs.AgeRange = req.AgeRange
		if locs := cleanLocations(req.Locations); len(locs) > 0 {
			prefs.Locations = locs
		}
		if len(req.ReligiousPractice) > 0 {
			prefs.ReligiousPractice = req.ReligiousPractice
		}
		if err := matching.ValidatePreferences(prefs); err != nil {
			writeInputError(w, err)
			return
		}
		if err := a.stores.Preferences.Save(r.Context(), prefs); err != nil {
			a.writeStoreError(w, r, err, "save preferences")
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	})
}

func (a *app) preferencesFor(r *http.Request, userID string) (*matching.Preferences, error) {
	prefs, err := a.stores.Preferences.GetByUserID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return matching.DefaultPreferences(userID), nil
	}
	return prefs, err
}

func cleanLocations(in []string) []string {
	out := make([]string, 0, len(in))
	for _, loc := range in {
		if loc = strings.TrimSpace(loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// GET /rights?gender=male|female
func rightsCatalogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		gender := matching.Gender(r.URL.Query().Get("gender"))
		if !gender.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_gender")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"gender": gender,
			"rights": matching.Catalog(gender),
		})
	}
}

// GET /users/{id}/profile
func userProfileHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		parts := pathParts(r)
		if len(parts) != 3 || parts[0] != "users" || parts[2] != "profile" || parts[1] == "" {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		p, err := a.stores.Profiles.GetByUserID(r.Context(), parts[1])
		if err != nil {
			a.writeStoreError(w, r, err, "load profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile": p,
			"online":  a.isOnline(r.Context(), p.UserID),
		})
	})
}
