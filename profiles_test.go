package main

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterBuilder91/misyar-connect/matching"
)

func validProfileBody() map[string]any {
	return map[string]any{
		"display_name":       "Maryam",
		"gender":             "female",
		"age":                29,
		"location":           " Dubai ",
		"occupation":         "Architect",
		"religious_practice": "moderately practicing",
		"bio":                "Looking for a kind partner.",
		"languages":          []string{"ar", "en"},
	}
}

func TestMyProfile(t *testing.T) {
	e := newTestEnv(t)
	u := e.register(t, "maryam@example.com")

	w := e.do(t, http.MethodGet, "/me/profile", u.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/me/profile", u.Token, validProfileBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeBody[matching.Profile](t, w)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, "Dubai", p.Location)
	assert.Equal(t, matching.Female, p.Gender)
	assert.Equal(t, []string{"ar", "en"}, p.Languages)

	w = e.do(t, http.MethodGet, "/me/profile", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Maryam", decodeBody[matching.Profile](t, w).DisplayName)

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name  string
			edit  func(map[string]any)
			field string
		}{
			{"underage", func(b map[string]any) { b["age"] = 17 }, "profile.age"},
			{"bad gender", func(b map[string]any) { b["gender"] = "other" }, "profile.gender"},
			{"bad practice", func(b map[string]any) { b["religious_practice"] = "sometimes" }, "profile.religious_practice"},
			{"blank name", func(b map[string]any) { b["display_name"] = "  " }, "profile.display_name"},
			{"long bio", func(b map[string]any) { b["bio"] = strings.Repeat("x", maxBioLen+1) }, "profile.bio"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				body := validProfileBody()
				tt.edit(body)
				w := e.do(t, http.MethodPut, "/me/profile", u.Token, body)
				require.Equal(t, http.StatusBadRequest, w.Code)
				resp := decodeBody[map[string]string](t, w)
				assert.Equal(t, "invalid_input", resp["error"])
				assert.Equal(t, tt.field, resp["field"])
			})
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/me/profile", "", nil).Code)
	})
}

func TestMyRights(t *testing.T) {
	e := newTestEnv(t)
	u := e.register(t, "omar@example.com")

	w := e.do(t, http.MethodPut, "/me/rights", u.Token, map[string]any{"rights": map[string]bool{"child_bearing": true}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "profile_required", errorCode(t, w))

	body := validProfileBody()
	body["gender"] = "male"
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/me/profile", u.Token, body).Code)

	w = e.do(t, http.MethodGet, "/me/rights", u.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/me/rights", u.Token, map[string]any{
		"rights": map[string]bool{
			"providing_financial_maintenance": true,
			"child_bearing":                   false,
			"living_together":                 true,
		},
		"explanation": "  I travel for work.  ",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[rightsResponse](t, w)
	assert.Equal(t, matching.Male, resp.Gender)
	assert.Equal(t, "I travel for work.", resp.Explanation)
	assert.Len(t, resp.Rights, len(matching.AllRightKinds()))
	assert.True(t, resp.Rights["providing_financial_maintenance"])
	// canonical keys come back in the caller's own framing
	assert.True(t, resp.Rights["residing_together"])
	assert.False(t, resp.Rights["child_bearing"])
	assert.False(t, resp.Rights["visiting_regularly"])
	assert.Len(t, resp.Catalog, len(matching.AllRightKinds()))

	stored, err := e.stores.Rights.GetByUserID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Adjustments[matching.FinancialMaintenance])
	assert.True(t, stored.Adjustments[matching.LivingTogether])
	assert.Len(t, stored.Adjustments, len(matching.AllRightKinds()))

	w = e.do(t, http.MethodGet, "/me/rights", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[rightsResponse](t, w).Rights["providing_financial_maintenance"])

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name  string
			body  map[string]any
			field string
		}{
			{"empty", map[string]any{"rights": map[string]bool{}}, "rights"},
			{"unknown key", map[string]any{"rights": map[string]bool{"free_lunch": true}}, "rights.free_lunch"},
			{"other gender key", map[string]any{"rights": map[string]bool{"decision_making_authority": true}}, "rights.decision_making_authority"},
			{"long explanation", map[string]any{
				"rights":      map[string]bool{"child_bearing": true},
				"explanation": strings.Repeat("y", maxExplanationLen+1),
			}, "explanation"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := e.do(t, http.MethodPut, "/me/rights", u.Token, tt.body)
				require.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tt.field, decodeBody[map[string]string](t, w)["field"])
			})
		}
	})
}

func TestParseRightsRequest(t *testing.T) {
	ra, err := parseRightsRequest("u1", matching.Female, rightsRequest{
		Rights: map[string]bool{
			"financial_maintenance": false,
			// canonical and framed keys for the same kind; willing wins
			"decision_making":           true,
			"decision_making_authority": false,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", ra.UserID)
	assert.True(t, ra.Adjustments[matching.DecisionMaking])
	assert.False(t, ra.Adjustments[matching.FinancialMaintenance])
	assert.Len(t, ra.Adjustments, len(matching.AllRightKinds()))
}

func TestMyPreferences(t *testing.T) {
	e := newTestEnv(t)
	u := e.register(t, "prefs@example.com")

	w := e.do(t, http.MethodGet, "/me/preferences", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	defaults := decodeBody[matching.Preferences](t, w)
	assert.Equal(t, matching.AgeRange{Min: 18, Max: 65}, defaults.AgeRange)
	assert.Equal(t, []string{matching.LocationWildcard}, defaults.Locations)
	assert.Len(t, defaults.ReligiousPractice, 3)

	w = e.do(t, http.MethodPut, "/me/preferences", u.Token, map[string]any{
		"age_range": map[string]int{"min": 25, "max": 40},
		"locations": []string{" Dubai ", "", "Doha"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decodeBody[matching.Preferences](t, w)
	assert.Equal(t, []string{"Dubai", "Doha"}, saved.Locations)
	assert.Len(t, saved.ReligiousPractice, 3, "omitted practices keep the default")

	w = e.do(t, http.MethodGet, "/me/preferences", u.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, matching.AgeRange{Min: 25, Max: 40}, decodeBody[matching.Preferences](t, w).AgeRange)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"inverted range", map[string]any{"age_range": map[string]int{"min": 40, "max": 25}}},
		{"underage min", map[string]any{"age_range": map[string]int{"min": 16, "max": 25}}},
		{"missing range", map[string]any{"locations": []string{"Doha"}}},
		{"bad tier", map[string]any{
			"age_range":          map[string]int{"min": 20, "max": 30},
			"religious_practice": []string{"always"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPut, "/me/preferences", u.Token, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_input", errorCode(t, w))
		})
	}
}

func TestRightsCatalog(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/rights?gender=male", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Gender matching.Gender        `json:"gender"`
		Rights []matching.RightOption `json:"rights"`
	}](t, w)
	assert.Equal(t, matching.Male, resp.Gender)
	require.Len(t, resp.Rights, len(matching.AllRightKinds()))
	assert.Equal(t, matching.LivingTogether, resp.Rights[0].Kind)
	assert.Equal(t, "residing_together", resp.Rights[0].Key)

	w = e.do(t, http.MethodGet, "/rights?gender=unknown", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_gender", errorCode(t, w))
}

func TestUserProfile(t *testing.T) {
	e := newTestEnv(t)
	viewer := e.register(t, "viewer@example.com")
	other := e.member(t, "other@example.com", memberSpec{Gender: matching.Female})

	w := e.do(t, http.MethodGet, "/users/"+other.ID+"/profile", viewer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[struct {
		Profile matching.Profile `json:"profile"`
		Online  bool             `json:"online"`
	}](t, w)
	assert.Equal(t, other.ID, resp.Profile.UserID)
	assert.True(t, resp.Online, "registering counts as being seen")

	e.clock.Advance(onlineWindow)
	w = e.do(t, http.MethodGet, "/users/"+other.ID+"/profile", viewer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[map[string]any](t, w)["online"].(bool))

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/users/"+viewer.ID+"/profile", viewer.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/users/"+other.ID, viewer.Token, nil).Code)
}
