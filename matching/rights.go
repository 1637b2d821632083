package matching

import "fmt"

// RightKind is the canonical name of a negotiable right. Both genders declare
// the same kinds, each from their own side of the union.
type RightKind string

const (
	LivingTogether       RightKind = "living_together"
	FinancialMaintenance RightKind = "financial_maintenance"
	EqualTimeDivision    RightKind = "equal_time_division"
	HousingProvision     RightKind = "housing_provision"
	RegularVisitation    RightKind = "regular_visitation"
	PublicAnnouncement   RightKind = "public_announcement"
	PhysicalIntimacy     RightKind = "physical_intimacy"
	ChildBearing         RightKind = "child_bearing"
	DecisionMaking       RightKind = "decision_making"
)

// RightOption is a catalog entry as shown to one gender.
type RightOption struct {
	Kind  RightKind `json:"kind"`
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Note  string    `json:"note"`
}

type framing struct {
	key, label, note string
}

type rightDef struct {
	kind         RightKind
	male, female framing
}

// rightCatalog is ordered; AllRightKinds and Catalog follow this order.
var rightCatalog = []rightDef{
	{
		kind:   LivingTogether,
		male:   framing{"residing_together", "Residing together", "Willing to keep separate households"},
		female: framing{"living_together", "Living together", "Willing to keep separate households"},
	},
	{
		kind:   FinancialMaintenance,
		male:   framing{"providing_financial_maintenance", "Providing financial maintenance", "Seeking a wife who waives full maintenance"},
		female: framing{"financial_maintenance", "Financial maintenance", "Willing to waive or reduce maintenance"},
	},
	{
		kind:   EqualTimeDivision,
		male:   framing{"dividing_time_equally", "Dividing time equally", "Seeking flexibility on time division between households"},
		female: framing{"equal_time_division", "Equal time division", "Willing to accept less than an equal share of time"},
	},
	{
		kind:   HousingProvision,
		male:   framing{"providing_housing", "Providing housing", "Seeking a wife who keeps her own residence"},
		female: framing{"housing_provision", "Housing provision", "Willing to stay in her own residence"},
	},
	{
		kind:   RegularVisitation,
		male:   framing{"visiting_regularly", "Visiting regularly", "Seeking flexibility on visit frequency"},
		female: framing{"regular_visitation", "Regular visitation", "Willing to accept irregular visits"},
	},
	{
		kind:   PublicAnnouncement,
		male:   framing{"announcing_publicly", "Announcing the marriage publicly", "Prefers a discreet announcement"},
		female: framing{"public_announcement", "Public announcement", "Willing to keep the marriage discreet"},
	},
	{
		kind:   PhysicalIntimacy,
		male:   framing{"physical_intimacy", "Physical intimacy", "Open to adjusted expectations"},
		female: framing{"physical_intimacy", "Physical intimacy", "Open to adjusted expectations"},
	},
	{
		kind:   ChildBearing,
		male:   framing{"child_bearing", "Having children", "Open to not having children together"},
		female: framing{"child_bearing", "Having children", "Open to not having children together"},
	},
	{
		kind:   DecisionMaking,
		male:   framing{"holding_decision_authority", "Holding decision authority", "Open to shared household decisions"},
		female: framing{"decision_making_authority", "Decision-making authority", "Open to deferring household decisions"},
	},
}

var (
	kindIndex = map[RightKind]int{}
	keyIndex  = map[Gender]map[string]RightKind{Male: {}, Female: {}}
)

func init() {
	for i, def := range rightCatalog {
		kindIndex[def.kind] = i
		keyIndex[Male][def.male.key] = def.kind
		keyIndex[Female][def.female.key] = def.kind
	}
}

// AllRightKinds returns every canonical kind in catalog order.
func AllRightKinds() []RightKind {
	kinds := make([]RightKind, len(rightCatalog))
	for i, def := range rightCatalog {
		kinds[i] = def.kind
	}
	return kinds
}

func (k RightKind) Valid() bool {
	_, ok := kindIndex[k]
	return ok
}

func framingFor(gender Gender, kind RightKind) (framing, bool) {
	i, ok := kindIndex[kind]
	if !ok || !gender.Valid() {
		return framing{}, false
	}
	if gender == Male {
		return rightCatalog[i].male, true
	}
	return rightCatalog[i].female, true
}

// RightKey returns the key gender uses for kind, e.g. male FinancialMaintenance
// is "providing_financial_maintenance".
func RightKey(gender Gender, kind RightKind) string {
	f, ok := framingFor(gender, kind)
	if !ok {
		return string(kind)
	}
	return f.key
}

// RightLabel returns the display label of kind for gender.
func RightLabel(gender Gender, kind RightKind) string {
	f, ok := framingFor(gender, kind)
	if !ok {
		return string(kind)
	}
	return f.label
}

// ParseRightKey maps a key in either the gender's own framing or the canonical
// form to its kind.
func ParseRightKey(gender Gender, key string) (RightKind, error) {
	if byKey, ok := keyIndex[gender]; ok {
		if kind, ok := byKey[key]; ok {
			return kind, nil
		}
	}
	if kind := RightKind(key); kind.Valid() {
		return kind, nil
	}
	return "", &InputError{Field: "rights." + key, Reason: fmt.Sprintf("unknown right for %s", gender)}
}

// Catalog lists the rights as presented to gender.
func Catalog(gender Gender) []RightOption {
	opts := make([]RightOption, 0, len(rightCatalog))
	for _, def := range rightCatalog {
		f := def.female
		if gender == Male {
			f = def.male
		}
		opts = append(opts, RightOption{Kind: def.kind, Key: RightKey(gender, def.kind), Label: RightLabel(gender, def.kind), Note: f.note})
	}
	return opts
}

// NormalizeAdjustments returns a copy of adj holding every catalog kind;
// kinds missing from adj are recorded as not willing.
func NormalizeAdjustments(adj map[RightKind]bool) map[RightKind]bool {
	out := make(map[RightKind]bool, len(rightCatalog))
	for _, def := range rightCatalog {
		out[def.kind] = adj[def.kind]
	}
	return out
}

// Keyed renders adjustments using gender's own keys, for API responses.
func Keyed(gender Gender, adj map[RightKind]bool) map[string]bool {
	out := make(map[string]bool, len(adj))
	for kind, v := range adj {
		out[RightKey(gender, kind)] = v
	}
	return out
}
