package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MasterBuilder91/misyar-connect/matching"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// NewPostgres wraps an open database handle. Call Migrate before first use
// on an empty database.
func NewPostgres(db *sql.DB) *Stores {
	pg := &pgDB{db: db, now: func() time.Time { return time.Now().UTC() }}
	return &Stores{
		Users:       pgUsers{pg},
		Profiles:    pgProfiles{pg},
		Rights:      pgRights{pg},
		Preferences: pgPrefs{pg},
		Interests:   pgInterests{pg},
		Messages:    pgMessages{pg},
		Reports:     pgReports{pg},
		migrate:     pg.migrate,
		close:       func(context.Context) error { return db.Close() },
	}
}

type pgDB struct {
	db  *sql.DB
	now func() time.Time
}

func (p *pgDB) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withTx runs fn in a read-committed transaction and rolls back on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---- users ----

type pgUsers struct{ *pgDB }

const userColumns = `id, email, password_hash, role, created_at, last_online`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var last sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &last); err != nil {
		return nil, notFound(err)
	}
	if last.Valid {
		t := last.Time.UTC()
		u.LastOnline = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s pgUsers) Create(ctx context.Context, email, passwordHash string, role Role) (*User, error) {
	u := &User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s pgUsers) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s pgUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s pgUsers) TouchLastOnline(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_online = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- profiles ----

type pgProfiles struct{ *pgDB }

const profileColumns = `user_id, display_name, gender, age, location, occupation, education,
	religious_practice, bio, photo_url, languages, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*matching.Profile, error) {
	var p matching.Profile
	var langs pq.StringArray
	err := row.Scan(&p.UserID, &p.DisplayName, &p.Gender, &p.Age, &p.Location, &p.Occupation, &p.Education,
		&p.ReligiousPractice, &p.Bio, &p.PhotoURL, &langs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if len(langs) > 0 {
		p.Languages = []string(langs)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s pgProfiles) GetByUserID(ctx context.Context, userID string) (*matching.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
}

func (s pgProfiles) ListCandidates(ctx context.Context, seekerID string, seekerGender matching.Gender) ([]matching.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id <> $1 AND gender <> $2
		ORDER BY created_at, user_id
	`, seekerID, seekerGender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []matching.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s pgProfiles) Save(ctx context.Context, p *matching.Profile) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11::text[], '{}'), $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			gender = EXCLUDED.gender,
			age = EXCLUDED.age,
			location = EXCLUDED.location,
			occupation = EXCLUDED.occupation,
			education = EXCLUDED.education,
			religious_practice = EXCLUDED.religious_practice,
			bio = EXCLUDED.bio,
			photo_url = EXCLUDED.photo_url,
			languages = EXCLUDED.languages,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, p.UserID, p.DisplayName, p.Gender, p.Age, p.Location, p.Occupation, p.Education,
		p.ReligiousPractice, p.Bio, p.PhotoURL, pq.Array(p.Languages), p.CreatedAt, p.UpdatedAt,
	).Scan(&p.CreatedAt)
}

// ---- rights ----

type pgRights struct{ *pgDB }

func scanRights(row interface{ Scan(...any) error }) (*matching.RightsAdjustment, error) {
	var r matching.RightsAdjustment
	var raw []byte
	if err := row.Scan(&r.UserID, &raw, &r.Explanation, &r.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(raw, &r.Adjustments); err != nil {
		return nil, fmt.Errorf("decode adjustments for %s: %w", r.UserID, err)
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s pgRights) GetByUserID(ctx context.Context, userID string) (*matching.RightsAdjustment, error) {
	return scanRights(s.db.QueryRowContext(ctx, `
		SELECT user_id, adjustments, explanation, updated_at FROM rights_adjustments WHERE user_id = $1
	`, userID))
}

func (s pgRights) GetByUserIDs(ctx context.Context, userIDs []string) (map[string]*matching.RightsAdjustment, error) {
	out := make(map[string]*matching.RightsAdjustment, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, adjustments, explanation, updated_at FROM rights_adjustments WHERE user_id = ANY($1)
	`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRights(rows)
		if err != nil {
			return nil, err
		}
		out[r.UserID] = r
	}
	return out, rows.Err()
}

func (s pgRights) Save(ctx context.Context, r *matching.RightsAdjustment) error {
	raw, err := json.Marshal(r.Adjustments)
	if err != nil {
		return err
	}
	r.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rights_adjustments (user_id, adjustments, explanation, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			adjustments = EXCLUDED.adjustments,
			explanation = EXCLUDED.explanation,
			updated_at = EXCLUDED.updated_at
	`, r.UserID, raw, r.Explanation, r.UpdatedAt)
	return err
}

// ---- preferences ----

type pgPrefs struct{ *pgDB }

func (s pgPrefs) GetByUserID(ctx context.Context, userID string) (*matching.Preferences, error) {
	var p matching.Preferences
	var locs, practices pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, age_min, age_max, locations, religious_practice, updated_at
		FROM preferences WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.AgeRange.Min, &p.AgeRange.Max, &locs, &practices, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.Locations = []string(locs)
	for _, rp := range practices {
		p.ReligiousPractice = append(p.ReligiousPractice, matching.ReligiousPractice(rp))
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s pgPrefs) Save(ctx context.Context, p *matching.Preferences) error {
	practices := make([]string, len(p.ReligiousPractice))
	for i, rp := range p.ReligiousPractice {
		practices[i] = string(rp)
	}
	p.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, age_min, age_max, locations, religious_practice, updated_at)
		VALUES ($1, $2, $3, COALESCE($4::text[], '{}'), $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			age_min = EXCLUDED.age_min,
			age_max = EXCLUDED.age_max,
			locations = EXCLUDED.locations,
			religious_practice = EXCLUDED.religious_practice,
			updated_at = EXCLUDED.updated_at
	`, p.UserID, p.AgeRange.Min, p.AgeRange.Max, pq.Array(p.Locations), pq.Array(practices), p.UpdatedAt)
	return err
}

// ---- interests ----

type pgInterests struct{ *pgDB }

const interestColumns = `from_user_id, to_user_id, status, created_at, updated_at`

func scanInterest(row interface{ Scan(...any) error }) (*Interest, error) {
	var in Interest
	if err := row.Scan(&in.FromUserID, &in.ToUserID, &in.Status, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	in.ID = InterestID(in.FromUserID, in.ToUserID)
	in.CreatedAt = in.CreatedAt.UTC()
	in.UpdatedAt = in.UpdatedAt.UTC()
	return &in, nil
}

func (s pgInterests) Express(ctx context.Context, from, to string) (*Interest, error) {
	var out *Interest
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		reverse, err := scanInterest(tx.QueryRowContext(ctx, `
			SELECT `+interestColumns+` FROM interests
			WHERE from_user_id = $1 AND to_user_id = $2
			FOR UPDATE
		`, to, from))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		status, promote := resolveExpress(reverse)
		now := s.now()
		out, err = scanInterest(tx.QueryRowContext(ctx, `
			INSERT INTO interests (from_user_id, to_user_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (from_user_id, to_user_id) DO NOTHING
			RETURNING `+interestColumns,
			from, to, status, now))
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		if err != nil {
			return err
		}

		if promote {
			_, err = tx.ExecContext(ctx, `
				UPDATE interests SET status = $3, updated_at = $4
				WHERE from_user_id = $1 AND to_user_id = $2
			`, to, from, InterestAccepted, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s pgInterests) Get(ctx context.Context, from, to string) (*Interest, error) {
	return scanInterest(s.db.QueryRowContext(ctx, `
		SELECT `+interestColumns+` FROM interests WHERE from_user_id = $1 AND to_user_id = $2
	`, from, to))
}

func (s pgInterests) SetStatus(ctx context.Context, from, to string, status InterestStatus) (*Interest, error) {
	return scanInterest(s.db.QueryRowContext(ctx, `
		UPDATE interests SET status = $3, updated_at = $4
		WHERE from_user_id = $1 AND to_user_id = $2
		RETURNING `+interestColumns,
		from, to, status, s.now()))
}

func (s pgInterests) query(ctx context.Context, q string, args ...any) ([]Interest, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Interest{}
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s pgInterests) ListIncoming(ctx context.Context, userID string, status InterestStatus) ([]Interest, error) {
	return s.query(ctx, `
		SELECT `+interestColumns+` FROM interests
		WHERE to_user_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC, from_user_id
	`, userID, string(status))
}

func (s pgInterests) ListOutgoing(ctx context.Context, userID string) ([]Interest, error) {
	return s.query(ctx, `
		SELECT `+interestColumns+` FROM interests
		WHERE from_user_id = $1
		ORDER BY created_at DESC, to_user_id
	`, userID)
}

func (s pgInterests) Dismiss(ctx context.Context, userID, targetID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dismissed_matches (user_id, dismissed_user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, targetID)
	return err
}

func (s pgInterests) ListDismissed(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dismissed_user_id FROM dismissed_matches WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- messages ----

type pgMessages struct{ *pgDB }

func (s pgMessages) SaveMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	pair := participants(senderID, receiverID)
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: ConversationID(senderID, receiverID),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		CreatedAt:      s.now(),
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, user1_id, user2_id, last_message_at, created_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO NOTHING
		`, msg.ConversationID, pair[0], pair[1], msg.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET
				last_message = $2,
				last_sender_id = $3,
				last_message_at = $4,
				user1_unread = user1_unread + CASE WHEN user1_id = $5 THEN 1 ELSE 0 END,
				user2_unread = user2_unread + CASE WHEN user2_id = $5 THEN 1 ELSE 0 END
			WHERE id = $1
		`, msg.ConversationID, body, senderID, msg.CreatedAt, receiverID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s pgMessages) ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, body, read, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3::int, 0)
	`, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s pgMessages) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user1_id, user2_id, last_message, last_sender_id, last_message_at,
			user1_unread, user2_unread, created_at
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY last_message_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		var u1, u2 string
		var n1, n2 int
		if err := rows.Scan(&c.ID, &u1, &u2, &c.LastMessage, &c.LastSenderID, &c.LastMessageAt, &n1, &n2, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Participants = []string{u1, u2}
		c.Unread = map[string]int{u1: n1, u2: n2}
		c.LastMessageAt = c.LastMessageAt.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s pgMessages) MarkRead(ctx context.Context, conversationID, userID string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations SET
				user1_unread = CASE WHEN user1_id = $2 THEN 0 ELSE user1_unread END,
				user2_unread = CASE WHEN user2_id = $2 THEN 0 ELSE user2_unread END
			WHERE id = $1
		`, conversationID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET read = true
			WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read
		`, conversationID, userID)
		return err
	})
}

// ---- reports ----

type pgReports struct{ *pgDB }

const reportColumns = `id, reporter_id, reported_user_id, reason, status, created_at, updated_at`

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	if err := row.Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s pgReports) Create(ctx context.Context, r *Report) error {
	now := s.now()
	r.ID = uuid.NewString()
	r.Status = ReportPending
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.ReporterID, r.ReportedUserID, r.Reason, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s pgReports) List(ctx context.Context, status ReportStatus) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at DESC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s pgReports) SetStatus(ctx context.Context, id string, status ReportStatus) (*Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, `
		UPDATE reports SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+reportColumns,
		id, status, s.now()))
}
