package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// IdempotencyStore implementa domain.IdempotencyStore sobre una colección de MongoDB.
// El _id es la clave compuesta, así que el índice único lo da la propia colección.
type IdempotencyStore struct {
	coll *mongo.Collection
}

func NewIdempotencyStore(ctx context.Context, client *mongo.Client, dbName string) (*IdempotencyStore, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return &IdempotencyStore{coll: client.Database(dbName).Collection("idempotency")}, nil
}

// EnsureIndexes crea el índice TTL que purga los registros expirados.
func (s *IdempotencyStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("idempotency_ttl"),
	})
	if err != nil {
		return fmt.Errorf("create idempotency ttl index: %w", err)
	}
	return nil
}

// --- Structs de BSON para el mapeo ---

type mongoKey struct {
	TenantID string `bson:"tenantId"`
	Key      string `bson:"key"`
	Method   string `bson:"method"`
	Path     string `bson:"path"`
}

type mongoIdempotency struct {
	ID           mongoKey   `bson:"_id"`
	RequestHash  string     `bson:"requestHash"`
	Status       string     `bson:"status"`
	StatusCode   int        `bson:"statusCode"`
	ResponseBody []byte     `bson:"responseBody,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	ExpiresAt    *time.Time `bson:"expiresAt,omitempty"`
}

func idFor(key domain.IdempotencyKey) mongoKey {
	return mongoKey{TenantID: key.TenantID, Key: key.Key, Method: strings.ToUpper(key.Method), Path: key.Path}
}

func (m mongoIdempotency) toDomain() domain.IdempotencyRecord {
	rec := domain.IdempotencyRecord{
		IdempotencyKey: domain.IdempotencyKey{TenantID: m.ID.TenantID, Key: m.ID.Key, Method: m.ID.Method, Path: m.ID.Path},
		RequestHash:    m.RequestHash,
		Status:         domain.IdempotencyStatus(m.Status),
		StatusCode:     m.StatusCode,
		ResponseBody:   m.ResponseBody,
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if m.ExpiresAt != nil {
		exp := m.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}
	return rec
}

func (s *IdempotencyStore) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	var doc mongoIdempotency
	err := s.coll.FindOne(ctx, bson.M{"_id": idFor(key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.IdempotencyRecord{}, fmt.Errorf("%w: %s", domain.ErrIdempotencyRecordNotFound, key)
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *IdempotencyStore) Create(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	doc := mongoIdempotency{
		ID:           idFor(rec.IdempotencyKey),
		RequestHash:  rec.RequestHash,
		Status:       string(rec.Status),
		StatusCode:   rec.StatusCode,
		ResponseBody: rec.ResponseBody,
		CreatedAt:    rec.CreatedAt.UTC(),
		ExpiresAt:    rec.ExpiresAt,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create idempotency record: %w", err)
	}
	return true, nil
}

func (s *IdempotencyStore) Transition(ctx context.Context, key domain.IdempotencyKey, requestHash string, from, to domain.IdempotencyStatus) (bool, error) {
	filter := bson.M{"_id": idFor(key), "status": string(from), "requestHash": requestHash}
	update := bson.M{
		"$set":   bson.M{"status": string(to), "statusCode": 0},
		"$unset": bson.M{"responseBody": ""},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("transition idempotency record: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *IdempotencyStore) SaveResponse(ctx context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, statusCode int, body []byte) error {
	filter := bson.M{"_id": idFor(key), "status": string(domain.IdempotencyInProgress)}
	update := bson.M{"$set": bson.M{"status": string(status), "statusCode": statusCode, "responseBody": body}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: no in-progress record for %s", domain.ErrStateConflict, key)
	}
	return nil
}

func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key domain.IdempotencyKey, now time.Time) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": idFor(key), "expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return false, fmt.Errorf("delete expired idempotency record: %w", err)
	}
	return res.DeletedCount == 1, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
