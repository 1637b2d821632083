package matching

import "math"

// Score ceilings and band values. Each sub-score is bounded on its own, so the
// total never leaves [0,100].
const (
	RightsWeight         = 50
	PreferenceBandPoints = 10
	MaxPreferencePoints  = 3 * PreferenceBandPoints

	// DemographicsBasePoints is awarded to every valid candidate record.
	DemographicsBasePoints = 10
	// DemographicsProfileSignalPoints is reserved for education/occupation
	// alignment and is currently always awarded.
	DemographicsProfileSignalPoints = 10
	MaxDemographicsPoints           = DemographicsBasePoints + DemographicsProfileSignalPoints

	MaxScore = RightsWeight + MaxPreferencePoints + MaxDemographicsPoints
)

// Band is a coarse label for display next to a score.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// BandFor buckets a score: 80 and up is high, 60 and up medium.
func BandFor(score int) Band {
	switch {
	case score >= 80:
		return BandHigh
	case score >= 60:
		return BandMedium
	default:
		return BandLow
	}
}

// Score computes the compatibility of candidate for user. It is pure and safe
// for concurrent use.
func Score(user Seeker, candidate Candidate) (CompatibilityResult, error) {
	if err := validateSeeker(user); err != nil {
		return CompatibilityResult{}, err
	}
	if err := validateCandidate(candidate); err != nil {
		return CompatibilityResult{}, err
	}

	rights, compat := rightsScore(user.Rights, candidate.Rights)
	b := Breakdown{
		Rights:       rights,
		Preferences:  preferenceScore(user.Preferences, candidate.Profile),
		Demographics: demographicsScore(candidate.Profile),
	}
	total := int(math.Round(b.Total()))

	return CompatibilityResult{
		UserID:              user.Profile.UserID,
		MatchedUserID:       candidate.Profile.UserID,
		Score:               total,
		Band:                BandFor(total),
		Breakdown:           b,
		RightsCompatibility: compat,
	}, nil
}

// rightsScore counts, over the user's declared kinds, those where either side
// is willing to adjust. Kinds the candidate never declared count as unwilling.
func rightsScore(user, candidate *RightsAdjustment) (float64, map[RightKind]bool) {
	compat := make(map[RightKind]bool, len(user.Adjustments))
	compatible := 0
	for kind, userWilling := range user.Adjustments {
		ok := userWilling || candidate.Willing(kind)
		compat[kind] = ok
		if ok {
			compatible++
		}
	}
	return RightsWeight * float64(compatible) / float64(len(user.Adjustments)), compat
}

func preferenceScore(prefs *Preferences, p Profile) int {
	score := 0
	if prefs.AgeRange.Contains(p.Age) {
		score += PreferenceBandPoints
	}
	if prefs.AcceptsLocation(p.Location) {
		score += PreferenceBandPoints
	}
	if prefs.AcceptsPractice(p.ReligiousPractice) {
		score += PreferenceBandPoints
	}
	return score
}

func demographicsScore(Profile) int {
	return DemographicsBasePoints + DemographicsProfileSignalPoints
}

func validateProfile(prefix string, p Profile) error {
	if p.UserID == "" {
		return invalid(prefix+".user_id", "missing")
	}
	if !p.Gender.Valid() {
		return invalid(prefix+".gender", "must be male or female")
	}
	if p.Age < MinimumAge {
		return invalid(prefix+".age", "must be at least 18")
	}
	return nil
}

func validateSeeker(user Seeker) error {
	if err := validateProfile("user", user.Profile); err != nil {
		return err
	}
	if user.Rights == nil {
		return invalid("user.rights", "missing rights adjustment")
	}
	if len(user.Rights.Adjustments) == 0 {
		return invalid("user.rights.adjustments", "no rights declared")
	}
	if user.Preferences == nil {
		return invalid("user.preferences", "missing preferences")
	}
	return nil
}

func validateCandidate(c Candidate) error {
	if err := validateProfile("candidate", c.Profile); err != nil {
		return err
	}
	if c.Rights == nil {
		return invalid("candidate.rights", "missing rights adjustment")
	}
	return nil
}

// ValidatePreferences checks the ranges a stored preference record must satisfy.
func ValidatePreferences(p *Preferences) error {
	if p.AgeRange.Min < MinimumAge || p.AgeRange.Max < MinimumAge {
		return invalid("preferences.age_range", "ages must be at least 18")
	}
	if p.AgeRange.Min > p.AgeRange.Max {
		return invalid("preferences.age_range", "min must not exceed max")
	}
	for _, rp := range p.ReligiousPractice {
		if !rp.Valid() {
			return invalid("preferences.religious_practice", "unknown tier "+string(rp))
		}
	}
	return nil
}

// ValidateProfile checks a profile before it is stored.
func ValidateProfile(p Profile) error {
	if err := validateProfile("profile", p); err != nil {
		return err
	}
	if p.ReligiousPractice != "" && !p.ReligiousPractice.Valid() {
		return invalid("profile.religious_practice", "unknown tier "+string(p.ReligiousPractice))
	}
	return nil
}
