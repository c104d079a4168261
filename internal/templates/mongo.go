package templates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCatalog stores templates in the "templates" collection. The default
// template is served even when the collection does not hold it.
type MongoCatalog struct {
	collection *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{collection: db.Collection("templates")}
}

func (c *MongoCatalog) Get(ctx context.Context, id string) (Template, error) {
	var t Template
	err := c.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if id == DefaultID {
			return Default(), nil
		}
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("failed to fetch template: %w", err)
	}
	return t, nil
}

func (c *MongoCatalog) Create(ctx context.Context, t *Template) error {
	if err := Validate(*t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = primitive.NewObjectID().Hex()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	_, err := c.collection.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (c *MongoCatalog) List(ctx context.Context) ([]Template, error) {
	cur, err := c.collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch templates: %w", err)
	}
	defer cur.Close(ctx)

	var out []Template
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return out, nil
}
