// Package mongostore implements storage.Store on MongoDB, for households
// that share one database across devices.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

const (
	casesColl         = "cases"
	entriesColl       = "entries"
	professionalsColl = "professionals"
)

// Store is a storage.Store backed by one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Store = (*Store)(nil)

// entryDoc and professionalDoc scope a record to its case. Absent optional
// fields are left out of the document thanks to the model's omitempty tags.
type entryDoc struct {
	CaseID      string `bson:"caseId"`
	model.Entry `bson:",inline"`
}

type professionalDoc struct {
	CaseID             string `bson:"caseId"`
	model.Professional `bson:",inline"`
}

// Open connects to uri, selects database and ensures the indexes exist.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if database == "" {
		return nil, errors.New("mongo database is empty")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	appLog.Info("mongo store opened", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		casesColl: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "members.userId", Value: 1}}},
		},
		entriesColl: {
			{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "dateTime", Value: -1}}},
			{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "professionalId", Value: 1}}},
		},
		professionalsColl: {
			{Keys: bson.D{{Key: "caseId", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Database exposes the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Cases

func (s *Store) CreateCase(ctx context.Context, c model.Case) error {
	if c.Members == nil {
		c.Members = []model.Member{}
	}
	if _, err := s.db.Collection(casesColl).InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	var c model.Case
	err := s.db.Collection(casesColl).FindOne(ctx, bson.M{"id": caseID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Case{}, storage.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCasesForUser(ctx context.Context, userID string) ([]model.Case, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "id", Value: 1}})
	cur, err := s.db.Collection(casesColl).Find(ctx, bson.M{"members.userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	cases := []model.Case{}
	if err := cur.All(ctx, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *Store) UpdateCase(ctx context.Context, c model.Case) error {
	if c.Members == nil {
		c.Members = []model.Member{}
	}
	res, err := s.db.Collection(casesColl).ReplaceOne(ctx, bson.M{"id": c.ID}, c)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Entries

func (s *Store) PutEntry(ctx context.Context, caseID string, e model.Entry) error {
	filter := bson.M{"caseId": caseID, "id": e.ID}
	doc := entryDoc{CaseID: caseID, Entry: e}
	_, err := s.db.Collection(entriesColl).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, caseID, entryID string) (model.Entry, error) {
	var doc entryDoc
	err := s.db.Collection(entriesColl).FindOne(ctx, bson.M{"caseId": caseID, "id": entryID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Entry{}, err
	}
	return doc.Entry, nil
}

func (s *Store) ListEntries(ctx context.Context, caseID string, filter storage.EntryFilter) ([]model.Entry, error) {
	q := bson.M{"caseId": caseID}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	opts := options.Find().SetSort(bson.D{{Key: "dateTime", Value: -1}, {Key: "id", Value: 1}})
	cur, err := s.db.Collection(entriesColl).Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var docs []entryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	entries := make([]model.Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.Entry)
	}
	return entries, nil
}

func (s *Store) DeleteEntry(ctx context.Context, caseID, entryID string) error {
	res, err := s.db.Collection(entriesColl).DeleteOne(ctx, bson.M{"caseId": caseID, "id": entryID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountEntriesByProfessional(ctx context.Context, caseID, professionalID string) (int, error) {
	n, err := s.db.Collection(entriesColl).CountDocuments(ctx, bson.M{"caseId": caseID, "professionalId": professionalID})
	return int(n), err
}

// Professionals

func (s *Store) PutProfessional(ctx context.Context, caseID string, p model.Professional) error {
	filter := bson.M{"caseId": caseID, "id": p.ID}
	doc := professionalDoc{CaseID: caseID, Professional: p}
	_, err := s.db.Collection(professionalsColl).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put professional %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProfessional(ctx context.Context, caseID, professionalID string) (model.Professional, error) {
	var doc professionalDoc
	err := s.db.Collection(professionalsColl).FindOne(ctx, bson.M{"caseId": caseID, "id": professionalID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Professional{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Professional{}, err
	}
	return doc.Professional, nil
}

func (s *Store) ListProfessionals(ctx context.Context, caseID string) ([]model.Professional, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "id", Value: 1}})
	cur, err := s.db.Collection(professionalsColl).Find(ctx, bson.M{"caseId": caseID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []professionalDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	pros := make([]model.Professional, 0, len(docs))
	for _, d := range docs {
		pros = append(pros, d.Professional)
	}
	return pros, nil
}

func (s *Store) DeleteProfessional(ctx context.Context, caseID, professionalID string) error {
	res, err := s.db.Collection(professionalsColl).DeleteOne(ctx, bson.M{"caseId": caseID, "id": professionalID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
