package matching

import (
	"errors"
	"sort"

	"go.uber.org/zap"
)

// SkippedCandidate describes a pool member that could not be scored.
type SkippedCandidate struct {
	CandidateID string
	Err         error
}

// Ranker orders a candidate pool by compatibility. A Ranker is immutable once
// built and may be shared between goroutines.
type Ranker struct {
	log      *zap.Logger
	minScore int
	limit    int
	onSkip   func(SkippedCandidate)
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets the logger used to report skipped candidates.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMinScore drops results scoring below score.
func WithMinScore(score int) Option {
	return func(r *Ranker) { r.minScore = score }
}

// WithLimit keeps only the n best results. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Ranker) { r.limit = n }
}

// WithSkipObserver is called once for every candidate that was skipped.
func WithSkipObserver(fn func(SkippedCandidate)) Option {
	return func(r *Ranker) { r.onSkip = fn }
}

func NewRanker(opts ...Option) *Ranker {
	r := &Ranker{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Eligible reports whether c may be shown to user at all: opposite gender and
// not the user themself.
func Eligible(user Profile, c Profile) bool {
	return c.Gender == user.Gender.Opposite() && c.UserID != user.UserID
}

// Rank filters ineligible candidates, scores the rest and returns them best
// first. Equal scores keep their pool order. A candidate with invalid input is
// skipped and logged; an invalid user aborts the pass. The pool is not modified.
func (r *Ranker) Rank(user Seeker, pool []Candidate) ([]Match, error) {
	if err := validateSeeker(user); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(pool))
	for _, c := range pool {
		if !Eligible(user.Profile, c.Profile) {
			continue
		}
		res, err := Score(user, c)
		if err != nil {
			if !errors.Is(err, ErrInvalidInput) {
				return nil, err
			}
			r.skip(user.Profile.UserID, c.Profile.UserID, err)
			continue
		}
		if res.Score < r.minScore {
			continue
		}
		matches = append(matches, Match{Result: res, Profile: c.Profile})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Result.Score > matches[j].Result.Score
	})
	if r.limit > 0 && len(matches) > r.limit {
		matches = matches[:r.limit]
	}
	return matches, nil
}

func (r *Ranker) skip(userID, candidateID string, err error) {
	r.log.Warn("skipping candidate",
		zap.String("user_id", userID),
		zap.String("candidate_id", candidateID),
		zap.Error(err),
	)
	if r.onSkip != nil {
		r.onSkip(SkippedCandidate{CandidateID: candidateID, Err: err})
	}
}
