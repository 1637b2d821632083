package matching

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeeker() Seeker {
	return Seeker{
		Profile: Profile{UserID: "u-1", Gender: Female, Age: 30, Location: "UAE", ReligiousPractice: VeryPracticing},
		Rights: &RightsAdjustment{UserID: "u-1", Adjustments: map[RightKind]bool{
			FinancialMaintenance: true,
			EqualTimeDivision:    false,
		}},
		Preferences: &Preferences{
			UserID:            "u-1",
			AgeRange:          AgeRange{Min: 25, Max: 40},
			Locations:         []string{"UAE", "any"},
			ReligiousPractice: []ReligiousPractice{VeryPracticing},
		},
	}
}

func testCandidate(id string) Candidate {
	return Candidate{
		Profile: Profile{UserID: id, Gender: Male, Age: 32, Location: "UAE", ReligiousPractice: VeryPracticing},
		Rights: &RightsAdjustment{UserID: id, Adjustments: map[RightKind]bool{
			FinancialMaintenance: false,
			EqualTimeDivision:    false,
		}},
	}
}

// ============================================================================
// SCORER TEST SUITE
// ============================================================================

func TestScorerSuite(t *testing.T) {
	t.Run("Scenario", func(t *testing.T) {
		testScoreScenario(t)
	})

	t.Run("Preferences", func(t *testing.T) {
		testPreferenceBands(t)
	})

	t.Run("Rights", func(t *testing.T) {
		testRightsScore(t)
	})

	t.Run("Bounds", func(t *testing.T) {
		testScoreBounds(t)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		testScoreInvalidInput(t)
	})
}

func testScoreScenario(t *testing.T) {
	res, err := Score(testSeeker(), testCandidate("c-1"))
	require.NoError(t, err)

	assert.Equal(t, "u-1", res.UserID)
	assert.Equal(t, "c-1", res.MatchedUserID)
	assert.InDelta(t, 25.0, res.Breakdown.Rights, 1e-9)
	assert.Equal(t, 30, res.Breakdown.Preferences)
	assert.Equal(t, 20, res.Breakdown.Demographics)
	assert.Equal(t, 75, res.Score)
	assert.Equal(t, BandMedium, res.Band)
	assert.Equal(t, map[RightKind]bool{FinancialMaintenance: true, EqualTimeDivision: false}, res.RightsCompatibility)
}

func testPreferenceBands(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Candidate)
		want   int
	}{
		{"All bands", func(c *Candidate) {}, 30},
		{"Too old", func(c *Candidate) { c.Profile.Age = 41 }, 20},
		{"Age on lower bound", func(c *Candidate) { c.Profile.Age = 25 }, 30},
		{"Age on upper bound", func(c *Candidate) { c.Profile.Age = 40 }, 30},
		{"Other practice", func(c *Candidate) { c.Profile.ReligiousPractice = SomewhatPracticing }, 20},
		{"Nothing matches", func(c *Candidate) {
			c.Profile.Age = 60
			c.Profile.ReligiousPractice = ModeratelyPracticing
		}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate("c-1")
			tt.mutate(&c)
			res, err := Score(testSeeker(), c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Breakdown.Preferences)
			assert.Zero(t, res.Breakdown.Preferences%PreferenceBandPoints)
		})
	}

	t.Run("Location without wildcard", func(t *testing.T) {
		user := testSeeker()
		user.Preferences.Locations = []string{"Oman", "UAE"}
		c := testCandidate("c-1")

		res, err := Score(user, c)
		require.NoError(t, err)
		assert.Equal(t, 30, res.Breakdown.Preferences)

		c.Profile.Location = "Qatar"
		res, err = Score(user, c)
		require.NoError(t, err)
		assert.Equal(t, 20, res.Breakdown.Preferences)
	})

	t.Run("Location membership is exact", func(t *testing.T) {
		user := testSeeker()
		user.Preferences.Locations = []string{"uae"}
		c := testCandidate("c-1")
		c.Profile.Location = "UAE"

		res, err := Score(user, c)
		require.NoError(t, err)
		assert.Equal(t, 20, res.Breakdown.Preferences)

		user.Preferences.Locations = []string{"ANY"}
		c.Profile.Location = "Qatar"
		res, err = Score(user, c)
		require.NoError(t, err)
		assert.Equal(t, 20, res.Breakdown.Preferences, "only lowercase any is the wildcard")
	})

	t.Run("Wildcard matches anywhere", func(t *testing.T) {
		c := testCandidate("c-1")
		c.Profile.Location = "Somewhere Else"
		res, err := Score(testSeeker(), c)
		require.NoError(t, err)
		assert.Equal(t, 30, res.Breakdown.Preferences)
	})
}

func testRightsScore(t *testing.T) {
	t.Run("Either side willing is compatible", func(t *testing.T) {
		user := testSeeker()
		c := testCandidate("c-1")
		c.Rights.Adjustments[EqualTimeDivision] = true

		res, err := Score(user, c)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, res.Breakdown.Rights, 1e-9)
		assert.Equal(t, 100, res.Score)
		assert.Equal(t, BandHigh, res.Band)
	})

	t.Run("Undeclared candidate kind counts as unwilling", func(t *testing.T) {
		c := testCandidate("c-1")
		c.Rights.Adjustments = map[RightKind]bool{}

		res, err := Score(testSeeker(), c)
		require.NoError(t, err)
		assert.InDelta(t, 25.0, res.Breakdown.Rights, 1e-9)
	})

	t.Run("Rounded only at the end", func(t *testing.T) {
		user := testSeeker()
		user.Rights.Adjustments = map[RightKind]bool{
			FinancialMaintenance: true,
			EqualTimeDivision:    true,
			HousingProvision:     false,
		}
		c := testCandidate("c-1")
		c.Profile.Age = 60

		res, err := Score(user, c)
		require.NoError(t, err)
		// 33.33 + 20 + 20
		assert.InDelta(t, 100.0/3, res.Breakdown.Rights, 1e-9)
		assert.Equal(t, 73, res.Score)
	})

	t.Run("Monotonic in compatible rights", func(t *testing.T) {
		user := testSeeker()
		kinds := AllRightKinds()
		user.Rights.Adjustments = NormalizeAdjustments(nil)
		c := testCandidate("c-1")
		c.Rights.Adjustments = NormalizeAdjustments(nil)

		prev := -1.0
		for _, kind := range kinds {
			c.Rights.Adjustments[kind] = true
			res, err := Score(user, c)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Breakdown.Rights, prev)
			assert.LessOrEqual(t, res.Breakdown.Rights, float64(RightsWeight))
			prev = res.Breakdown.Rights
		}
		assert.InDelta(t, float64(RightsWeight), prev, 1e-9)
	})
}

func testScoreBounds(t *testing.T) {
	ages := []int{18, 24, 30, 45, 80}
	practices := append(AllReligiousPractices(), "")
	flags := []bool{false, true}

	for _, age := range ages {
		for _, rp := range practices {
			for _, uw := range flags {
				for _, cw := range flags {
					user := testSeeker()
					user.Rights.Adjustments = map[RightKind]bool{LivingTogether: uw, ChildBearing: !uw}
					c := testCandidate("c-1")
					c.Profile.Age = age
					c.Profile.ReligiousPractice = rp
					c.Rights.Adjustments = map[RightKind]bool{LivingTogether: cw}

					res, err := Score(user, c)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, res.Score, 0)
					assert.LessOrEqual(t, res.Score, MaxScore)
					assert.LessOrEqual(t, res.Breakdown.Preferences, MaxPreferencePoints)
					assert.Equal(t, MaxDemographicsPoints, res.Breakdown.Demographics)
				}
			}
		}
	}
}

func testScoreInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		user  func(*Seeker)
		cand  func(*Candidate)
		field string
	}{
		{"Missing preferences", func(s *Seeker) { s.Preferences = nil }, nil, "user.preferences"},
		{"Missing user rights", func(s *Seeker) { s.Rights = nil }, nil, "user.rights"},
		{"Zero declared rights", func(s *Seeker) { s.Rights.Adjustments = map[RightKind]bool{} }, nil, "user.rights.adjustments"},
		{"Missing user id", func(s *Seeker) { s.Profile.UserID = "" }, nil, "user.user_id"},
		{"Unknown gender", func(s *Seeker) { s.Profile.Gender = "other" }, nil, "user.gender"},
		{"Missing candidate rights", nil, func(c *Candidate) { c.Rights = nil }, "candidate.rights"},
		{"Underage candidate", nil, func(c *Candidate) { c.Profile.Age = 17 }, "candidate.age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := testSeeker()
			c := testCandidate("c-1")
			if tt.user != nil {
				tt.user(&user)
			}
			if tt.cand != nil {
				tt.cand(&c)
			}

			_, err := Score(user, c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))

			var ie *InputError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, BandHigh, BandFor(100))
	assert.Equal(t, BandHigh, BandFor(80))
	assert.Equal(t, BandMedium, BandFor(79))
	assert.Equal(t, BandMedium, BandFor(60))
	assert.Equal(t, BandLow, BandFor(59))
	assert.Equal(t, BandLow, BandFor(0))
}

func TestValidatePreferences(t *testing.T) {
	require.NoError(t, ValidatePreferences(DefaultPreferences("u")))

	p := DefaultPreferences("u")
	p.AgeRange = AgeRange{Min: 40, Max: 30}
	assert.ErrorIs(t, ValidatePreferences(p), ErrInvalidInput)

	p = DefaultPreferences("u")
	p.AgeRange.Min = 17
	assert.ErrorIs(t, ValidatePreferences(p), ErrInvalidInput)

	p = DefaultPreferences("u")
	p.ReligiousPractice = []ReligiousPractice{"devout"}
	assert.ErrorIs(t, ValidatePreferences(p), ErrInvalidInput)
}

func BenchmarkScore(b *testing.B) {
	user := testSeeker()
	user.Rights.Adjustments = NormalizeAdjustments(map[RightKind]bool{FinancialMaintenance: true})
	c := testCandidate("c-1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Score(user, c)
	}
}
