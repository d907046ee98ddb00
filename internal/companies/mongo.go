package companies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"candidate-harvester/internal/models"
)

// companyDoc is the stored shape of a company.
type companyDoc struct {
	ID            any        `bson:"_id"`
	Name          string     `bson:"name"`
	Roles         []string   `bson:"roles"`
	Active        bool       `bson:"active"`
	LastScrapedAt *time.Time `bson:"last_scraped_at,omitempty"`
}

// MongoStore reads target companies from a collection and writes checkpoints back to it.
type MongoStore struct {
	client       *mongo.Client
	companies    *mongo.Collection
	defaultRoles []string
	staleAfter   time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewMongoStore connects to uri and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database, collection string, defaultRoles []string, staleAfter time.Duration, logger zerolog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{
		client:       client,
		companies:    client.Database(database).Collection(collection),
		defaultRoles: defaultRoles,
		staleAfter:   staleAfter,
		log:          logger,
		now:          time.Now,
	}
	s.createIndexes(connectCtx)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) {
	_, err := s.companies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "last_scraped_at", Value: 1}}},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("create company indexes")
	}
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Units returns one unit per role of every active company, ordered by name.
func (s *MongoStore) Units(ctx context.Context) ([]models.SearchUnit, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetProjection(bson.M{"name": 1, "roles": 1})
	cursor, err := s.companies.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("find companies: %w", err)
	}
	defer cursor.Close(ctx)

	var list []Company
	for cursor.Next(ctx) {
		var doc companyDoc
		if err := cursor.Decode(&doc); err != nil {
			s.log.Warn().Err(err).Msg("skip undecodable company")
			continue
		}
		list = append(list, Company{ID: idString(doc.ID), Name: doc.Name, Roles: doc.Roles})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return expand(list, s.defaultRoles), nil
}

// ShouldSearch reports whether companyID has not been scraped within the staleness window.
func (s *MongoStore) ShouldSearch(ctx context.Context, companyID string) (bool, error) {
	var doc companyDoc
	opts := options.FindOne().SetProjection(bson.M{"last_scraped_at": 1})
	err := s.companies.FindOne(ctx, idFilter(companyID), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load company %s: %w", companyID, err)
	}
	return isStale(doc.LastScrapedAt, s.now(), s.staleAfter), nil
}

// MarkScraped stores the checkpoint for companyID.
func (s *MongoStore) MarkScraped(ctx context.Context, companyID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_scraped_at": at.UTC()}}
	res, err := s.companies.UpdateOne(ctx, idFilter(companyID), update)
	if err != nil {
		return fmt.Errorf("mark company %s scraped: %w", companyID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mark company %s scraped: %w", companyID, mongo.ErrNoDocuments)
	}
	return nil
}

// Upsert writes companies keyed by id, or by lowercased name when the id is empty, and marks them
// active. It returns the number of documents inserted or changed.
func (s *MongoStore) Upsert(ctx context.Context, list []Company) (int, error) {
	changed := 0
	for _, c := range list {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = strings.ToLower(name)
		}
		var filter bson.M
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			filter = bson.M{"_id": oid}
		} else {
			filter = bson.M{"_id": id}
		}
		update := bson.M{"$set": bson.M{"name": name, "roles": c.Roles, "active": true}}
		res, err := s.companies.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return changed, fmt.Errorf("upsert company %s: %w", id, err)
		}
		changed += int(res.UpsertedCount + res.ModifiedCount)
	}
	s.log.Info().Int("companies", len(list)).Int("changed", changed).Msg("companies upserted")
	return changed, nil
}

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// idFilter matches an _id stored either as an ObjectID or as a plain string.
func idFilter(companyID string) bson.M {
	ids := []any{companyID}
	if oid, err := primitive.ObjectIDFromHex(companyID); err == nil {
		ids = append(ids, oid)
	}
	return bson.M{"_id": bson.M{"$in": ids}}
}
