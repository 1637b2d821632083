package matching

import "time"

// Gender is the binary gender recorded on a profile.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	return g == Male || g == Female
}

// Opposite returns the other gender, or "" for an unknown one.
func (g Gender) Opposite() Gender {
	switch g {
	case Male:
		return Female
	case Female:
		return Male
	}
	return ""
}

// ReligiousPractice is an ordered tier: very > moderately > somewhat.
type ReligiousPractice string

const (
	VeryPracticing       ReligiousPractice = "very practicing"
	ModeratelyPracticing ReligiousPractice = "moderately practicing"
	SomewhatPracticing   ReligiousPractice = "somewhat practicing"
)

// AllReligiousPractices lists the tiers from most to least practicing.
func AllReligiousPractices() []ReligiousPractice {
	return []ReligiousPractice{VeryPracticing, ModeratelyPracticing, SomewhatPracticing}
}

// Level returns 3 for very practicing down to 1 for somewhat practicing, 0 if unknown.
func (p ReligiousPractice) Level() int {
	switch p {
	case VeryPracticing:
		return 3
	case ModeratelyPracticing:
		return 2
	case SomewhatPracticing:
		return 1
	}
	return 0
}

func (p ReligiousPractice) Valid() bool {
	return p.Level() > 0
}

// MinimumAge is the youngest age a profile or preference may carry.
const MinimumAge = 18

// LocationWildcard in a preference set matches every candidate location.
const LocationWildcard = "any"

// Profile is the public record of a user. It is read-only during matching.
type Profile struct {
	UserID            string            `json:"user_id" bson:"_id"`
	DisplayName       string            `json:"display_name" bson:"display_name"`
	Gender            Gender            `json:"gender" bson:"gender"`
	Age               int               `json:"age" bson:"age"`
	Location          string            `json:"location" bson:"location"`
	Occupation        string            `json:"occupation" bson:"occupation"`
	Education         string            `json:"education,omitempty" bson:"education,omitempty"`
	ReligiousPractice ReligiousPractice `json:"religious_practice" bson:"religious_practice"`
	Bio               string            `json:"bio" bson:"bio"`
	PhotoURL          string            `json:"photo_url,omitempty" bson:"photo_url,omitempty"`
	Languages         []string          `json:"languages,omitempty" bson:"languages,omitempty"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updated_at"`
}

// RightsAdjustment records which rights a user is willing to relax.
// Adjustments is keyed by canonical kind; a kind absent from the map was not declared.
type RightsAdjustment struct {
	UserID      string             `json:"user_id" bson:"_id"`
	Adjustments map[RightKind]bool `json:"adjustments" bson:"adjustments"`
	Explanation string             `json:"explanation" bson:"explanation"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}

// Willing reports whether the holder declared kind and is willing to adjust it.
func (r *RightsAdjustment) Willing(kind RightKind) bool {
	if r == nil {
		return false
	}
	return r.Adjustments[kind]
}

// AgeRange is an inclusive range of ages.
type AgeRange struct {
	Min int `json:"min" bson:"min"`
	Max int `json:"max" bson:"max"`
}

func (a AgeRange) Contains(age int) bool {
	return age >= a.Min && age <= a.Max
}

// Preferences are the search filters of the querying user.
type Preferences struct {
	UserID            string              `json:"user_id" bson:"_id"`
	AgeRange          AgeRange            `json:"age_range" bson:"age_range"`
	Locations         []string            `json:"locations" bson:"locations"`
	ReligiousPractice []ReligiousPractice `json:"religious_practice" bson:"religious_practice"`
	UpdatedAt         time.Time           `json:"updated_at" bson:"updated_at"`
}

// DefaultPreferences are assumed for a user who never saved any:
// every adult age up to 65, any location, every practice tier.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:            userID,
		AgeRange:          AgeRange{Min: MinimumAge, Max: 65},
		Locations:         []string{LocationWildcard},
		ReligiousPractice: AllReligiousPractices(),
	}
}

// AcceptsLocation reports whether loc is in the preferred set. Only the exact
// LocationWildcard matches everything.
func (p *Preferences) AcceptsLocation(loc string) bool {
	for _, want := range p.Locations {
		if want == LocationWildcard || want == loc {
			return true
		}
	}
	return false
}

func (p *Preferences) AcceptsPractice(rp ReligiousPractice) bool {
	for _, want := range p.ReligiousPractice {
		if want == rp {
			return true
		}
	}
	return false
}

// Seeker is the querying user with everything the scorer needs.
type Seeker struct {
	Profile     Profile
	Rights      *RightsAdjustment
	Preferences *Preferences
}

// Candidate is a pool member. Rights is nil when the candidate never saved a record.
type Candidate struct {
	Profile Profile
	Rights  *RightsAdjustment
}

// Breakdown holds the three independently bounded sub-scores.
type Breakdown struct {
	Rights       float64 `json:"rights"`
	Preferences  int     `json:"preferences"`
	Demographics int     `json:"demographics"`
}

// Total is the unrounded sum of the sub-scores.
func (b Breakdown) Total() float64 {
	return b.Rights + float64(b.Preferences) + float64(b.Demographics)
}

// CompatibilityResult is derived on every query and never persisted by the engine.
type CompatibilityResult struct {
	UserID              string             `json:"user_id"`
	MatchedUserID       string             `json:"matched_user_id"`
	Score               int                `json:"compatibility_score"`
	Band                Band               `json:"band"`
	Breakdown           Breakdown          `json:"breakdown"`
	RightsCompatibility map[RightKind]bool `json:"rights_compatibility"`
}

// Match pairs a result with the candidate profile it was computed against.
type Match struct {
	Result  CompatibilityResult `json:"result"`
	Profile Profile             `json:"profile"`
}
