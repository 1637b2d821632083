package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MasterBuilder91/misyar-connect/matching"
)

// memory is a process-local backend. Every record handed out is a copy.
type memory struct {
	mu  sync.RWMutex
	now func() time.Time

	users     map[string]User
	emails    map[string]string
	profiles  map[string]matching.Profile
	rights    map[string]matching.RightsAdjustment
	prefs     map[string]matching.Preferences
	interests map[string]Interest
	dismissed map[string][]string
	convs     map[string]Conversation
	messages  map[string][]Message
	reports   []Report
}

// NewMemory returns stores that keep everything in process memory. Data is
// lost on exit; it backs tests and the "memory" driver.
func NewMemory() *Stores {
	m := &memory{
		now:       func() time.Time { return time.Now().UTC() },
		users:     map[string]User{},
		emails:    map[string]string{},
		profiles:  map[string]matching.Profile{},
		rights:    map[string]matching.RightsAdjustment{},
		prefs:     map[string]matching.Preferences{},
		interests: map[string]Interest{},
		dismissed: map[string][]string{},
		convs:     map[string]Conversation{},
		messages:  map[string][]Message{},
	}
	return &Stores{
		Users:       memUsers{m},
		Profiles:    memProfiles{m},
		Rights:      memRights{m},
		Preferences: memPrefs{m},
		Interests:   memInterests{m},
		Messages:    memMessages{m},
		Reports:     memReports{m},
	}
}

// ---- users ----

type memUsers struct{ *memory }

func (s memUsers) Create(_ context.Context, email, passwordHash string, role Role) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.emails[key]; ok {
		return nil, ErrConflict
	}
	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: s.now()}
	s.users[u.ID] = u
	s.emails[key] = u.ID
	return &u, nil
}

func (s memUsers) GetByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s memUsers) TouchLastOnline(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastOnline = &at
	s.users[id] = u
	return nil
}

// ---- profiles ----

type memProfiles struct{ *memory }

func copyProfile(p matching.Profile) matching.Profile {
	p.Languages = append([]string(nil), p.Languages...)
	return p
}

func (s memProfiles) GetByUserID(_ context.Context, userID string) (*matching.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p = copyProfile(p)
	return &p, nil
}

func (s memProfiles) ListCandidates(_ context.Context, seekerID string, seekerGender matching.Gender) ([]matching.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]matching.Profile, 0, len(s.profiles))
	for id, p := range s.profiles {
		if id == seekerID || p.Gender == seekerGender {
			continue
		}
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s memProfiles) Save(_ context.Context, p *matching.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if old, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.UserID] = copyProfile(*p)
	return nil
}

// ---- rights ----

type memRights struct{ *memory }

func copyRights(r matching.RightsAdjustment) matching.RightsAdjustment {
	adj := make(map[matching.RightKind]bool, len(r.Adjustments))
	for k, v := range r.Adjustments {
		adj[k] = v
	}
	r.Adjustments = adj
	return r
}

func (s memRights) GetByUserID(_ context.Context, userID string) (*matching.RightsAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rights[userID]
	if !ok {
		return nil, ErrNotFound
	}
	r = copyRights(r)
	return &r, nil
}

func (s memRights) GetByUserIDs(_ context.Context, userIDs []string) (map[string]*matching.RightsAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*matching.RightsAdjustment, len(userIDs))
	for _, id := range userIDs {
		if r, ok := s.rights[id]; ok {
			r = copyRights(r)
			out[id] = &r
		}
	}
	return out, nil
}

func (s memRights) Save(_ context.Context, r *matching.RightsAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.UpdatedAt = s.now()
	s.rights[r.UserID] = copyRights(*r)
	return nil
}

// ---- preferences ----

type memPrefs struct{ *memory }

func copyPrefs(p matching.Preferences) matching.Preferences {
	p.Locations = append([]string(nil), p.Locations...)
	p.ReligiousPractice = append([]matching.ReligiousPractice(nil), p.ReligiousPractice...)
	return p
}

func (s memPrefs) GetByUserID(_ context.Context, userID string) (*matching.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p = copyPrefs(p)
	return &p, nil
}

func (s memPrefs) Save(_ context.Context, p *matching.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.UpdatedAt = s.now()
	s.prefs[p.UserID] = copyPrefs(*p)
	return nil
}

// ---- interests ----

type memInterests struct{ *memory }

func (s memInterests) Express(_ context.Context, from, to string) (*Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.interests[InterestID(from, to)]; ok {
		return nil, ErrConflict
	}

	now := s.now()
	var reverse *Interest
	if r, ok := s.interests[InterestID(to, from)]; ok {
		reverse = &r
	}
	status, promote := resolveExpress(reverse)
	if promote {
		reverse.Status = InterestAccepted
		reverse.UpdatedAt = now
		s.interests[reverse.ID] = *reverse
	}

	in := Interest{
		ID:         InterestID(from, to),
		FromUserID: from,
		ToUserID:   to,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.interests[in.ID] = in
	return &in, nil
}

func (s memInterests) Get(_ context.Context, from, to string) (*Interest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.interests[InterestID(from, to)]
	if !ok {
		return nil, ErrNotFound
	}
	return &in, nil
}

func (s memInterests) SetStatus(_ context.Context, from, to string, status InterestStatus) (*Interest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.interests[InterestID(from, to)]
	if !ok {
		return nil, ErrNotFound
	}
	in.Status = status
	in.UpdatedAt = s.now()
	s.interests[in.ID] = in
	return &in, nil
}

func (s memInterests) list(match func(Interest) bool) []Interest {
	out := []Interest{}
	for _, in := range s.interests {
		if match(in) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s memInterests) ListIncoming(_ context.Context, userID string, status InterestStatus) ([]Interest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.list(func(in Interest) bool {
		return in.ToUserID == userID && (status == "" || in.Status == status)
	}), nil
}

func (s memInterests) ListOutgoing(_ context.Context, userID string) ([]Interest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.list(func(in Interest) bool { return in.FromUserID == userID }), nil
}

func (s memInterests) Dismiss(_ context.Context, userID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.dismissed[userID] {
		if id == targetID {
			return nil
		}
	}
	s.dismissed[userID] = append(s.dismissed[userID], targetID)
	return nil
}

func (s memInterests) ListDismissed(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string{}, s.dismissed[userID]...), nil
}

// ---- messages ----

type memMessages struct{ *memory }

func copyConversation(c Conversation) Conversation {
	c.Participants = append([]string(nil), c.Participants...)
	unread := make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		unread[k] = v
	}
	c.Unread = unread
	return c
}

func (s memMessages) SaveMessage(_ context.Context, senderID, receiverID, body string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	convID := ConversationID(senderID, receiverID)
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		CreatedAt:      now,
	}
	s.messages[convID] = append(s.messages[convID], msg)

	c, ok := s.convs[convID]
	if !ok {
		c = Conversation{
			ID:           convID,
			Participants: participants(senderID, receiverID),
			Unread:       map[string]int{senderID: 0, receiverID: 0},
			CreatedAt:    now,
		}
	}
	c.LastMessage = body
	c.LastSenderID = senderID
	c.LastMessageAt = now
	c.Unread[receiverID]++
	s.convs[convID] = c
	return &msg, nil
}

func (s memMessages) ListMessages(_ context.Context, conversationID string, limit int, before *time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	out := []Message{}
	for i := len(all) - 1; i >= 0; i-- {
		if before != nil && !all[i].CreatedAt.Before(*before) {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s memMessages) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Conversation{}
	for _, c := range s.convs {
		for _, p := range c.Participants {
			if p == userID {
				out = append(out, copyConversation(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s memMessages) MarkRead(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ReceiverID == userID {
			msgs[i].Read = true
		}
	}
	c.Unread[userID] = 0
	s.convs[conversationID] = c
	return nil
}

// ---- reports ----

type memReports struct{ *memory }

func (s memReports) Create(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r.ID = uuid.NewString()
	r.Status = ReportPending
	r.CreatedAt = now
	r.UpdatedAt = now
	s.reports = append(s.reports, *r)
	return nil
}

func (s memReports) List(_ context.Context, status ReportStatus) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Report{}
	for i := len(s.reports) - 1; i >= 0; i-- {
		if status == "" || s.reports[i].Status == status {
			out = append(out, s.reports[i])
		}
	}
	return out, nil
}

func (s memReports) SetStatus(_ context.Context, id string, status ReportStatus) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reports {
		if s.reports[i].ID == id {
			s.reports[i].Status = status
			s.reports[i].UpdatedAt = s.now()
			r := s.reports[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}
