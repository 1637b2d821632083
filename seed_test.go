package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemory()

	sum, err := seed(ctx, stores, seedOptions{Count: 12, Seed: 7, Password: "test1234", InterestRate: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Users)
	require.Len(t, sum.UserIDs, 12)
	assert.GreaterOrEqual(t, sum.Interests, 2)

	admin, err := stores.Users.GetByEmail(ctx, "admin@misyar.test")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, admin.Role)
	assert.Equal(t, sum.UserIDs[0], admin.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("test1234")))

	member, err := stores.Users.GetByEmail(ctx, "user005@misyar.test")
	require.NoError(t, err)
	assert.Equal(t, store.RoleUser, member.Role)

	for i, id := range sum.UserIDs {
		p, err := stores.Profiles.GetByUserID(ctx, id)
		require.NoError(t, err)
		require.NoError(t, matching.ValidateProfile(*p))
		want := matching.Male
		if i%2 == 1 {
			want = matching.Female
		}
		assert.Equal(t, want, p.Gender)

		ra, err := stores.Rights.GetByUserID(ctx, id)
		require.NoError(t, err)
		assert.Len(t, ra.Adjustments, len(matching.AllRightKinds()))

		prefs, err := stores.Preferences.GetByUserID(ctx, id)
		require.NoError(t, err)
		require.NoError(t, matching.ValidatePreferences(prefs))
		assert.True(t, prefs.AgeRange.Contains(p.Age))
	}

	for _, pair := range [][2]string{{sum.UserIDs[0], sum.UserIDs[1]}, {sum.UserIDs[1], sum.UserIDs[0]}} {
		in, err := stores.Interests.Get(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, store.InterestAccepted, in.Status)
	}

	_, err = seed(ctx, stores, seedOptions{Count: 2, Seed: 7, Password: "test1234"})
	assert.True(t, errors.Is(err, store.ErrConflict), "reseeding reports the conflict")
}

func TestSeedDeterministic(t *testing.T) {
	ctx := context.Background()
	opts := seedOptions{Count: 8, Seed: 99, Password: "test1234", InterestRate: 0.5}

	profilesOf := func() ([]matching.Profile, int) {
		stores := store.NewMemory()
		sum, err := seed(ctx, stores, opts)
		require.NoError(t, err)
		out := make([]matching.Profile, 0, len(sum.UserIDs))
		for _, id := range sum.UserIDs {
			p, err := stores.Profiles.GetByUserID(ctx, id)
			require.NoError(t, err)
			out = append(out, *p)
		}
		return out, sum.Interests
	}

	a, interestsA := profilesOf()
	b, interestsB := profilesOf()
	assert.Equal(t, interestsA, interestsB)
	for i := range a {
		assert.Equal(t, a[i].DisplayName, b[i].DisplayName)
		assert.Equal(t, a[i].Age, b[i].Age)
		assert.Equal(t, a[i].Location, b[i].Location)
		assert.Equal(t, a[i].Languages, b[i].Languages)
	}
}

func TestSeedOptionsValidation(t *testing.T) {
	_, err := seed(context.Background(), store.NewMemory(), seedOptions{Count: 0, Password: "x"})
	assert.Error(t, err)
	_, err = seed(context.Background(), store.NewMemory(), seedOptions{Count: 2, Password: "x", InterestRate: 1.5})
	assert.Error(t, err)
}
