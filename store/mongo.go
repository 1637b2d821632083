package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MasterBuilder91/misyar-connect/matching"
)

// Collection names used by the document backend.
const (
	usersCollection         = "users"
	profilesCollection      = "profiles"
	rightsCollection        = "rights_adjustments"
	preferencesCollection   = "preferences"
	interestsCollection     = "interests"
	dismissedCollection     = "dismissed_matches"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	reportsCollection       = "reports"
)

// NewMongo builds stores on top of db. Interest and message writes span
// several documents without a transaction, so a standalone server works.
func NewMongo(db *mongo.Database) *Stores {
	m := &mongoDB{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	return &Stores{
		Users:       mongoUsers{m},
		Profiles:    mongoProfiles{m},
		Rights:      mongoRights{m},
		Preferences: mongoPrefs{m},
		Interests:   mongoInterests{m},
		Messages:    mongoMessages{m},
		Reports:     mongoReports{m},
		migrate:     m.ensureIndexes,
		close:       func(ctx context.Context) error { return db.Client().Disconnect(ctx) },
	}
}

type mongoDB struct {
	db  *mongo.Database
	now func() time.Time
}

func (m *mongoDB) c(name string) *mongo.Collection {
	return m.db.Collection(name)
}

func (m *mongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		profilesCollection: {
			{Keys: bson.D{{Key: "gender", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		interestsCollection: {
			{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "from_user_id", Value: 1}}},
		},
		dismissedCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		conversationsCollection: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		reportsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := m.c(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func mongoNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- users ----

type mongoUsers struct{ *mongoDB }

// userDoc stores a lowercased email beside the original for unique lookups.
type userDoc struct {
	User     `bson:",inline"`
	EmailKey string `bson:"email_key"`
}

func (s mongoUsers) Create(ctx context.Context, email, passwordHash string, role Role) (*User, error) {
	doc := userDoc{
		User:     User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: s.now()},
		EmailKey: strings.ToLower(email),
	}
	if _, err := s.c(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &doc.User, nil
}

func (s mongoUsers) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDoc
	if err := s.c(usersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mongoNotFound(err)
	}
	return &doc.User, nil
}

func (s mongoUsers) GetByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s mongoUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, bson.M{"email_key": strings.ToLower(email)})
}

func (s mongoUsers) TouchLastOnline(ctx context.Context, id string, at time.Time) error {
	res, err := s.c(usersCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_online": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- profiles ----

type mongoProfiles struct{ *mongoDB }

func (s mongoProfiles) GetByUserID(ctx context.Context, userID string) (*matching.Profile, error) {
	var p matching.Profile
	if err := s.c(profilesCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&p); err != nil {
		return nil, mongoNotFound(err)
	}
	return &p, nil
}

func (s mongoProfiles) ListCandidates(ctx context.Context, seekerID string, seekerGender matching.Gender) ([]matching.Profile, error) {
	filter := bson.M{
		"_id":    bson.M{"$ne": seekerID},
		"gender": bson.M{"$ne": seekerGender},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return findAll[matching.Profile](ctx, s.c(profilesCollection), filter, opts)
}

func (s mongoProfiles) Save(ctx context.Context, p *matching.Profile) error {
	now := s.now()
	var existing matching.Profile
	err := s.c(profilesCollection).FindOne(ctx, bson.M{"_id": p.UserID}).Decode(&existing)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case errors.Is(err, mongo.ErrNoDocuments):
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	default:
		return err
	}
	p.UpdatedAt = now

	_, err = s.c(profilesCollection).ReplaceOne(ctx, bson.M{"_id": p.UserID}, p, options.Replace().SetUpsert(true))
	return err
}

// ---- rights ----

type mongoRights struct{ *mongoDB }

func (s mongoRights) GetByUserID(ctx context.Context, userID string) (*matching.RightsAdjustment, error) {
	var r matching.RightsAdjustment
	if err := s.c(rightsCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&r); err != nil {
		return nil, mongoNotFound(err)
	}
	return &r, nil
}

func (s mongoRights) GetByUserIDs(ctx context.Context, userIDs []string) (map[string]*matching.RightsAdjustment, error) {
	out := make(map[string]*matching.RightsAdjustment, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	docs, err := findAll[matching.RightsAdjustment](ctx, s.c(rightsCollection), bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		out[docs[i].UserID] = &docs[i]
	}
	return out, nil
}

func (s mongoRights) Save(ctx context.Context, r *matching.RightsAdjustment) error {
	r.UpdatedAt = s.now()
	_, err := s.c(rightsCollection).ReplaceOne(ctx, bson.M{"_id": r.UserID}, r, options.Replace().SetUpsert(true))
	return err
}

// ---- preferences ----

type mongoPrefs struct{ *mongoDB }

func (s mongoPrefs) GetByUserID(ctx context.Context, userID string) (*matching.Preferences, error) {
	var p matching.Preferences
	if err := s.c(preferencesCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&p); err != nil {
		return nil, mongoNotFound(err)
	}
	return &p, nil
}

func (s mongoPrefs) Save(ctx context.Context, p *matching.Preferences) error {
	p.UpdatedAt = s.now()
	_, err := s.c(preferencesCollection).ReplaceOne(ctx, bson.M{"_id": p.UserID}, p, options.Replace().SetUpsert(true))
	return err
}

// ---- interests ----

type mongoInterests struct{ *mongoDB }

func (s mongoInterests) Express(ctx context.Context, from, to string) (*Interest, error) {
	coll := s.c(interestsCollection)

	reverse, err := s.Get(ctx, to, from)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	status, promote := resolveExpress(reverse)

	now := s.now()
	in := &Interest{
		ID:         InterestID(from, to),
		FromUserID: from,
		ToUserID:   to,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := coll.InsertOne(ctx, in); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if promote {
		_, err = coll.UpdateOne(ctx,
			bson.M{"_id": reverse.ID, "status": InterestPending},
			bson.M{"$set": bson.M{"status": InterestAccepted, "updated_at": now}},
		)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (s mongoInterests) Get(ctx context.Context, from, to string) (*Interest, error) {
	var in Interest
	if err := s.c(interestsCollection).FindOne(ctx, bson.M{"_id": InterestID(from, to)}).Decode(&in); err != nil {
		return nil, mongoNotFound(err)
	}
	return &in, nil
}

func (s mongoInterests) SetStatus(ctx context.Context, from, to string, status InterestStatus) (*Interest, error) {
	var in Interest
	err := s.c(interestsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": InterestID(from, to)},
		bson.M{"$set": bson.M{"status": status, "updated_at": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&in)
	if err != nil {
		return nil, mongoNotFound(err)
	}
	return &in, nil
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}

func (s mongoInterests) ListIncoming(ctx context.Context, userID string, status InterestStatus) ([]Interest, error) {
	filter := bson.M{"to_user_id": userID}
	if status != "" {
		filter["status"] = status
	}
	return findAll[Interest](ctx, s.c(interestsCollection), filter, options.Find().SetSort(newestFirst))
}

func (s mongoInterests) ListOutgoing(ctx context.Context, userID string) ([]Interest, error) {
	return findAll[Interest](ctx, s.c(interestsCollection), bson.M{"from_user_id": userID}, options.Find().SetSort(newestFirst))
}

type dismissal struct {
	ID              string    `bson:"_id"`
	UserID          string    `bson:"user_id"`
	DismissedUserID string    `bson:"dismissed_user_id"`
	CreatedAt       time.Time `bson:"created_at"`
}

func (s mongoInterests) Dismiss(ctx context.Context, userID, targetID string) error {
	_, err := s.c(dismissedCollection).UpdateOne(ctx,
		bson.M{"_id": userID + "_" + targetID},
		bson.M{"$setOnInsert": bson.M{"user_id": userID, "dismissed_user_id": targetID, "created_at": s.now()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s mongoInterests) ListDismissed(ctx context.Context, userID string) ([]string, error) {
	docs, err := findAll[dismissal](ctx, s.c(dismissedCollection), bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DismissedUserID
	}
	return out, nil
}

// ---- messages ----

type mongoMessages struct{ *mongoDB }

func (s mongoMessages) SaveMessage(ctx context.Context, senderID, receiverID, body string) (*Message, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: ConversationID(senderID, receiverID),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		CreatedAt:      s.now(),
	}

	_, err := s.c(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{
			"$setOnInsert": bson.M{
				"participants":       participants(senderID, receiverID),
				"created_at":         msg.CreatedAt,
				"unread." + senderID: 0,
			},
			"$set": bson.M{
				"last_message":    body,
				"last_sender_id":  senderID,
				"last_message_at": msg.CreatedAt,
			},
			"$inc": bson.M{"unread." + receiverID: 1},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, err
	}

	if _, err := s.c(messagesCollection).InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s mongoMessages) ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[Message](ctx, s.c(messagesCollection), filter, opts)
}

func (s mongoMessages) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return findAll[Conversation](ctx, s.c(conversationsCollection), bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}}))
}

func (s mongoMessages) MarkRead(ctx context.Context, conversationID, userID string) error {
	res, err := s.c(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"unread." + userID: 0}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	_, err = s.c(messagesCollection).UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "receiver_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

// ---- reports ----

type mongoReports struct{ *mongoDB }

func (s mongoReports) Create(ctx context.Context, r *Report) error {
	now := s.now()
	r.ID = uuid.NewString()
	r.Status = ReportPending
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.c(reportsCollection).InsertOne(ctx, r)
	return err
}

func (s mongoReports) List(ctx context.Context, status ReportStatus) ([]Report, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return findAll[Report](ctx, s.c(reportsCollection), filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s mongoReports) SetStatus(ctx context.Context, id string, status ReportStatus) (*Report, error) {
	var r Report
	err := s.c(reportsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err != nil {
		return nil, mongoNotFound(err)
	}
	return &r, nil
}
