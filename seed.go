package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/bcrypt"

	"github.com/MasterBuilder91/misyar-connect/matching"
	"github.com/MasterBuilder91/misyar-connect/store"
)

type seedOptions struct {
	Count        int
	Seed         int64
	Password     string
	InterestRate float64
}

type seedSummary struct {
	Users     int
	Interests int
	UserIDs   []string
}

var seedOpts seedOptions

var (
	seedMaleNames   = []string{"Omar", "Yusuf", "Ibrahim", "Khalid", "Hamza", "Bilal", "Tariq", "Samir", "Idris", "Zayd"}
	seedFemaleNames = []string{"Aisha", "Maryam", "Fatima", "Khadija", "Layla", "Noor", "Salma", "Huda", "Amina", "Zainab"}
	seedLocations   = []string{"Riyadh", "Jeddah", "Dubai", "Doha", "Cairo", "Amman", "Kuwait City", "Muscat"}
	seedOccupations = []string{"Engineer", "Teacher", "Physician", "Pharmacist", "Accountant", "Architect", "Designer", "Entrepreneur"}
	seedEducation   = []string{"High school", "Bachelor's", "Master's", "Doctorate"}
	seedLanguages   = []string{"ar", "en", "fr", "ur", "tr"}
)

func pick[T any](r *rand.Rand, xs []T) T {
	return xs[r.Intn(len(xs))]
}

// seed creates opts.Count users through stores. User 0 is an admin and users
// 0 and 1 (opposite genders) are mutually interested.
func seed(ctx context.Context, stores *store.Stores, opts seedOptions) (seedSummary, error) {
	if opts.Count < 1 {
		return seedSummary{}, errors.New("--count must be at least 1")
	}
	if opts.InterestRate < 0 || opts.InterestRate > 1 {
		return seedSummary{}, errors.New("--interest-rate must be in range 0..1")
	}

	r := rand.New(rand.NewSource(opts.Seed))
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return seedSummary{}, fmt.Errorf("hash password: %w", err)
	}

	var sum seedSummary
	genders := make(map[string]matching.Gender, opts.Count)
	for i := 0; i < opts.Count; i++ {
		email, role := fmt.Sprintf("user%03d@misyar.test", i), store.RoleUser
		if i == 0 {
			email, role = "admin@misyar.test", store.RoleAdmin
		}
		u, err := stores.Users.Create(ctx, email, string(hash), role)
		if errors.Is(err, store.ErrConflict) {
			return sum, fmt.Errorf("user %s already exists, the store looks seeded: %w", email, err)
		}
		if err != nil {
			return sum, fmt.Errorf("create user %s: %w", email, err)
		}

		gender := matching.Male
		if i%2 == 1 {
			gender = matching.Female
		}
		if err := seedUser(ctx, stores, r, u.ID, gender); err != nil {
			return sum, err
		}
		genders[u.ID] = gender
		sum.UserIDs = append(sum.UserIDs, u.ID)
	}
	sum.Users = len(sum.UserIDs)

	if len(sum.UserIDs) >= 2 {
		a, b := sum.UserIDs[0], sum.UserIDs[1]
		for _, pair := range [][2]string{{a, b}, {b, a}} {
			if _, err := stores.Interests.Express(ctx, pair[0], pair[1]); err != nil {
				return sum, fmt.Errorf("connect first two users: %w", err)
			}
			sum.Interests++
		}
	}

	for i, from := range sum.UserIDs {
		for j, to := range sum.UserIDs {
			if (i < 2 && j < 2) || genders[from] == genders[to] || r.Float64() >= opts.InterestRate {
				continue
			}
			_, err := stores.Interests.Express(ctx, from, to)
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if err != nil {
				return sum, fmt.Errorf("express interest: %w", err)
			}
			sum.Interests++
		}
	}
	return sum, nil
}

func seedUser(ctx context.Context, stores *store.Stores, r *rand.Rand, userID string, gender matching.Gender) error {
	name := pick(r, seedMaleNames)
	if gender == matching.Female {
		name = pick(r, seedFemaleNames)
	}
	age := 20 + r.Intn(31)
	location := pick(r, seedLocations)

	profile := &matching.Profile{
		UserID:            userID,
		DisplayName:       name,
		Gender:            gender,
		Age:               age,
		Location:          location,
		Occupation:        pick(r, seedOccupations),
		Education:         pick(r, seedEducation),
		ReligiousPractice: pick(r, matching.AllReligiousPractices()),
		Bio:               fmt.Sprintf("%s from %s, looking for a respectful and honest arrangement.", name, location),
		Languages:         []string{"ar", pick(r, seedLanguages[1:])},
	}
	if err := stores.Profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}

	adj := make(map[matching.RightKind]bool)
	for _, kind := range matching.AllRightKinds() {
		adj[kind] = r.Float64() < 0.4
	}
	rights := &matching.RightsAdjustment{
		UserID:      userID,
		Adjustments: adj,
		Explanation: "Seeded demo record.",
	}
	if err := stores.Rights.Save(ctx, rights); err != nil {
		return fmt.Errorf("save rights %s: %w", userID, err)
	}

	prefs := matching.DefaultPreferences(userID)
	prefs.AgeRange = matching.AgeRange{Min: max(matching.MinimumAge, age-8), Max: age + 10}
	if r.Intn(2) == 0 {
		prefs.Locations = []string{location}
	}
	if err := stores.Preferences.Save(ctx, prefs); err != nil {
		return fmt.Errorf("save preferences %s: %w", userID, err)
	}
	return nil
}
