package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/layer-3/signet/core"
)

const (
	noncesCollection    = "nonces"
	sessionsCollection  = "sessions"
	blacklistCollection = "session_blacklist"
)

// MongoStore is a MongoDB implementation of the NonceStore and SessionStore interfaces.
// Expired nonces, sessions and blacklist entries are removed by TTL indexes.
type MongoStore struct {
	client    *mongo.Client
	nonces    *mongo.Collection
	sessions  *mongo.Collection
	blacklist *mongo.Collection
	now       func() time.Time
}

// NewMongoStore connects to MongoDB, verifies connectivity and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		nonces:    db.Collection(noncesCollection),
		sessions:  db.Collection(sessionsCollection),
		blacklist: db.Collection(blacklistCollection),
		now:       time.Now,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the uniqueness and TTL indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ttl := options.Index().SetExpireAfterSeconds(0)

	if _, err := s.nonces.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "value", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: ttl},
	}); err != nil {
		return fmt.Errorf("creating nonce indexes: %w", err)
	}

	if _, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "jti", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "address", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: ttl},
	}); err != nil {
		return fmt.Errorf("creating session indexes: %w", err)
	}

	if _, err := s.blacklist.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "address", Value: 1}, {Key: "jti", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: ttl},
	}); err != nil {
		return fmt.Errorf("creating blacklist indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertNonce(ctx context.Context, nonce core.Nonce) error {
	_, err := s.nonces.InsertOne(ctx, nonceRecord{
		Value:     nonce.Value,
		Address:   nonce.Address,
		CreatedAt: nonce.CreatedAt,
		ExpiresAt: nonce.ExpiresAt,
		Used:      nonce.Used,
	})
	if err != nil {
		return storeErr("insert nonce", err)
	}
	return nil
}

// ConsumeNonce relies on FindOneAndUpdate being atomic per document: only the
// first caller still sees used=false.
func (s *MongoStore) ConsumeNonce(ctx context.Context, value, address string, now time.Time) (bool, error) {
	filter := bson.D{
		{Key: "value", Value: value},
		{Key: "used", Value: false},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "used", Value: true},
		{Key: "address", Value: address},
	}}}

	err := s.nonces.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("consume nonce", err)
	}
	return true, nil
}

func (s *MongoStore) CreateSession(ctx context.Context, session core.Session) error {
	if _, err := s.sessions.InsertOne(ctx, newSessionRecord(session)); err != nil {
		return storeErr("create session", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, jti string) (*core.Session, error) {
	var rec sessionRecord
	err := s.sessions.FindOne(ctx, bson.D{{Key: "jti", Value: jti}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr("get session", err)
	}
	session := rec.session()
	return &session, nil
}

func (s *MongoStore) TouchSession(ctx context.Context, jti string, at time.Time) error {
	res, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "jti", Value: jti}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastActiveAt", Value: at}}}},
	)
	if err != nil {
		return storeErr("touch session", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// RevokeSession only matches active sessions, so repeated calls are no-ops.
func (s *MongoStore) RevokeSession(ctx context.Context, jti, reason string, at time.Time) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.D{{Key: "jti", Value: jti}, {Key: "status", Value: string(core.SessionActive)}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(core.SessionRevoked)},
			{Key: "revokedReason", Value: reason},
			{Key: "revokedAt", Value: at},
		}}},
	)
	if err != nil {
		return storeErr("revoke session", err)
	}
	return nil
}

// ActiveSessions filters on expiresAt for the same reason as IsBlacklisted.
func (s *MongoStore) ActiveSessions(ctx context.Context, address string) ([]core.Session, error) {
	cursor, err := s.sessions.Find(ctx,
		bson.D{
			{Key: "address", Value: address},
			{Key: "status", Value: string(core.SessionActive)},
			{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: s.now()}}},
		},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}

	var recs []sessionRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, storeErr("list sessions", err)
	}

	sessions := make([]core.Session, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, rec.session())
	}
	return sessions, nil
}

// Blacklist upserts so a repeated administrative call refreshes the expiry.
func (s *MongoStore) Blacklist(ctx context.Context, entry core.BlacklistEntry) error {
	_, err := s.blacklist.UpdateOne(ctx,
		bson.D{{Key: "address", Value: entry.Address}, {Key: "jti", Value: entry.SessionID}},
		bson.D{{Key: "$set", Value: blacklistRecord{
			Address:   entry.Address,
			SessionID: entry.SessionID,
			Reason:    entry.Reason,
			CreatedAt: entry.CreatedAt,
			ExpiresAt: entry.ExpiresAt,
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return storeErr("blacklist session", err)
	}
	return nil
}

// IsBlacklisted also checks expiresAt because the TTL monitor only runs periodically.
func (s *MongoStore) IsBlacklisted(ctx context.Context, address, jti string) (bool, error) {
	n, err := s.blacklist.CountDocuments(ctx, bson.D{
		{Key: "address", Value: address},
		{Key: "jti", Value: jti},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	})
	if err != nil {
		return false, storeErr("check blacklist", err)
	}
	return n > 0, nil
}

// Close disconnects the underlying client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
