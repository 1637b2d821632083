// Package store holds the repositories the HTTP layer reads and writes. The
// matching engine never sees them; handlers materialize records and pass them in.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MasterBuilder91/misyar-connect/matching"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account. Profiles live separately and may not exist yet.
type User struct {
	ID           string     `json:"id" bson:"_id"`
	Email        string     `json:"email" bson:"email"`
	PasswordHash string     `json:"-" bson:"password_hash"`
	Role         Role       `json:"role" bson:"role"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	LastOnline   *time.Time `json:"last_online,omitempty" bson:"last_online,omitempty"`
}

type InterestStatus string

const (
	InterestPending  InterestStatus = "pending"
	InterestAccepted InterestStatus = "accepted"
	InterestRejected InterestStatus = "rejected"
)

// Interest is a directed "interest expressed" record keyed by (from, to).
type Interest struct {
	ID         string         `json:"id" bson:"_id"`
	FromUserID string         `json:"from_user_id" bson:"from_user_id"`
	ToUserID   string         `json:"to_user_id" bson:"to_user_id"`
	Status     InterestStatus `json:"status" bson:"status"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" bson:"updated_at"`
}

func InterestID(from, to string) string {
	return from + "_" + to
}

// Conversation is the thread between two users. Unread counts are per participant.
type Conversation struct {
	ID            string         `json:"id" bson:"_id"`
	Participants  []string       `json:"participants" bson:"participants"`
	LastMessage   string         `json:"last_message" bson:"last_message"`
	LastSenderID  string         `json:"last_sender_id" bson:"last_sender_id"`
	LastMessageAt time.Time      `json:"last_message_at" bson:"last_message_at"`
	Unread        map[string]int `json:"unread" bson:"unread"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// ConversationID is stable for a pair regardless of argument order.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

func participants(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

type Message struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	SenderID       string    `json:"sender_id" bson:"sender_id"`
	ReceiverID     string    `json:"receiver_id" bson:"receiver_id"`
	Body           string    `json:"body" bson:"body"`
	Read           bool      `json:"read" bson:"read"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportReviewed ReportStatus = "reviewed"
	ReportResolved ReportStatus = "resolved"
)

func (s ReportStatus) Valid() bool {
	return s == ReportPending || s == ReportReviewed || s == ReportResolved
}

type Report struct {
	ID             string       `json:"id" bson:"_id"`
	ReporterID     string       `json:"reporter_id" bson:"reporter_id"`
	ReportedUserID string       `json:"reported_user_id" bson:"reported_user_id"`
	Reason         string       `json:"reason" bson:"reason"`
	Status         ReportStatus `json:"status" bson:"status"`
	CreatedAt      time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" bson:"updated_at"`
}

type UserStore interface {
	Create(ctx context.Context, email, passwordHash string, role Role) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	TouchLastOnline(ctx context.Context, id string, at time.Time) error
}

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*matching.Profile, error)
	// ListCandidates returns profiles of the opposite gender, excluding the
	// seeker, oldest first.
	ListCandidates(ctx context.Context, seekerID string, seekerGender matching.Gender) ([]matching.Profile, error)
	Save(ctx context.Context, p *matching.Profile) error
}

type RightsStore interface {
	GetByUserID(ctx context.Context, userID string) (*matching.RightsAdjustment, error)
	// GetByUserIDs omits ids without a record from the returned map.
	GetByUserIDs(ctx context.Context, userIDs []string) (map[string]*matching.RightsAdjustment, error)
	Save(ctx context.Context, r *matching.RightsAdjustment) error
}

type PreferenceStore interface {
	GetByUserID(ctx context.Context, userID string) (*matching.Preferences, error)
	Save(ctx context.Context, p *matching.Preferences) error
}

type InterestStore interface {
	// Express records interest from -> to. A pending interest in the other
	// direction makes both accepted. Expressing twice returns ErrConflict.
	Express(ctx context.Context, from, to string) (*Interest, error)
	Get(ctx context.Context, from, to string) (*Interest, error)
	SetStatus(ctx context.Context, from, to string, status InterestStatus) (*Interest, error)
	// ListIncoming filters by status unless status is empty.
	ListIncoming(ctx context.Context, userID string, status InterestStatus) ([]Interest, error)
	ListOutgoing(ctx context.Context, userID string) ([]Interest, error)
	Dismiss(ctx context.Context, userID, targetID string) error
	ListDismissed(ctx context.Context, userID string) ([]string, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error)
	// ListMessages returns newest first, strictly older than before when set.
	ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

type ReportStore interface {
	Create(ctx context.Context, r *Report) error
	List(ctx context.Context, status ReportStatus) ([]Report, error)
	SetStatus(ctx context.Context, id string, status ReportStatus) (*Report, error)
}

// Stores bundles one backend's repositories.
type Stores struct {
	Users       UserStore
	Profiles    ProfileStore
	Rights      RightsStore
	Preferences PreferenceStore
	Interests   InterestStore
	Messages    MessageStore
	Reports     ReportStore

	migrate func(ctx context.Context) error
	close   func(ctx context.Context) error
}

// Migrate creates tables or indexes the backend needs. It is idempotent.
func (s *Stores) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(ctx)
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// resolveExpress picks the status of a new interest given the reverse record,
// if any, and whether the reverse record must be promoted to accepted.
func resolveExpress(reverse *Interest) (forward InterestStatus, promoteReverse bool) {
	if reverse == nil {
		return InterestPending, false
	}
	switch reverse.Status {
	case InterestPending:
		return InterestAccepted, true
	case InterestAccepted:
		return InterestAccepted, false
	}
	return InterestPending, false
}
