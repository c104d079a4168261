package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

const maxCASRetries = 8

// ErrConflict is returned when Update keeps losing the version race.
var ErrConflict = errors.New("receipt update conflict")

type receiptDoc struct {
	ID                string              `bson:"_id"`
	ReceiptNumber     string              `bson:"receipt_number"`
	VerificationToken string              `bson:"verification_token"`
	Payer             string              `bson:"payer"`
	PayerEmail        string              `bson:"payer_email"`
	PayerPhone        string              `bson:"payer_phone"`
	Amount            string              `bson:"amount"`
	Currency          string              `bson:"currency"`
	Purpose           string              `bson:"purpose"`
	Category          string              `bson:"category"`
	Organization      string              `bson:"organization"`
	IssuedBy          string              `bson:"issued_by"`
	IssuedAt          time.Time           `bson:"issued_at"`
	TemplateID        string              `bson:"template_id"`
	Payment           models.ChannelState `bson:"payment"`
	Email             models.ChannelState `bson:"email"`
	SMS               models.ChannelState `bson:"sms"`
	Version           int64               `bson:"version"`
}

func toDoc(r models.Receipt) receiptDoc {
	return receiptDoc{
		ID:                r.ID,
		ReceiptNumber:     r.ReceiptNumber,
		VerificationToken: r.VerificationToken,
		Payer:             r.Payer,
		PayerEmail:        r.PayerEmail,
		PayerPhone:        r.PayerPhone,
		Amount:            r.Amount.String(),
		Currency:          r.Currency,
		Purpose:           r.Purpose,
		Category:          r.Category,
		Organization:      r.Organization,
		IssuedBy:          r.IssuedBy,
		IssuedAt:          r.IssuedAt,
		TemplateID:        r.TemplateID,
		Payment:           r.Payment,
		Email:             r.Email,
		SMS:               r.SMS,
		Version:           r.Version,
	}
}

func (d receiptDoc) toReceipt() (models.Receipt, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("receipt %s: invalid stored amount %q: %w", d.ID, d.Amount, err)
	}
	return models.Receipt{
		ID:                d.ID,
		ReceiptNumber:     d.ReceiptNumber,
		VerificationToken: d.VerificationToken,
		Payer:             d.Payer,
		PayerEmail:        d.PayerEmail,
		PayerPhone:        d.PayerPhone,
		Amount:            amount,
		Currency:          d.Currency,
		Purpose:           d.Purpose,
		Category:          d.Category,
		Organization:      d.Organization,
		IssuedBy:          d.IssuedBy,
		IssuedAt:          d.IssuedAt,
		TemplateID:        d.TemplateID,
		Payment:           d.Payment,
		Email:             d.Email,
		SMS:               d.SMS,
		Version:           d.Version,
	}, nil
}

// MongoStore keeps receipts in the "receipts" collection.
type MongoStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	return &MongoStore{collection: db.Collection("receipts"), logger: logger}
}

// EnsureIndexes creates the unique and listing indexes for the receipts collection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "receipt_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "verification_token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "organization", Value: 1}, {Key: "issued_at", Value: -1}}},
		{Keys: bson.D{{Key: "issued_by", Value: 1}, {Key: "issued_at", Value: -1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		s.logger.Error("failed to create receipt indexes", zap.Error(err))
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Put(ctx context.Context, r models.Receipt) error {
	_, err := s.collection.InsertOne(ctx, toDoc(r))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (models.Receipt, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetByToken(ctx context.Context, token string) (models.Receipt, error) {
	return s.findOne(ctx, bson.M{"verification_token": token})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (models.Receipt, error) {
	var doc receiptDoc
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Receipt{}, ErrNotFound
		}
		return models.Receipt{}, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	return doc.toReceipt()
}

func (s *MongoStore) ListByOrganization(ctx context.Context, org string) ([]models.Receipt, error) {
	return s.find(ctx, bson.M{"organization": org})
}

func (s *MongoStore) ListByIssuer(ctx context.Context, userID string) ([]models.Receipt, error) {
	return s.find(ctx, bson.M{"issued_by": userID})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Receipt, error) {
	cur, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "issued_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}
	defer cur.Close(ctx)

	var docs []receiptDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode receipts: %w", err)
	}
	out := make([]models.Receipt, 0, len(docs))
	for _, d := range docs {
		r, err := d.toReceipt()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Update is a compare-and-swap on the version field. Only the channel
// sub-documents that mutate changed are written, so two writers touching
// different channels never overwrite each other.
func (s *MongoStore) Update(ctx context.Context, id string, mutate MutateFunc) (models.Receipt, error) {
	for attempt := 1; attempt <= maxCASRetries; attempt++ {
		before, err := s.Get(ctx, id)
		if err != nil {
			return models.Receipt{}, err
		}
		after := before
		if err := mutate(&after); err != nil {
			return models.Receipt{}, err
		}

		set := bson.M{}
		for _, c := range models.Channels {
			if *after.State(c) != *before.State(c) {
				set[string(c)] = *after.State(c)
			}
		}
		if len(set) == 0 {
			return before, nil
		}
		set["version"] = before.Version + 1

		res, err := s.collection.UpdateOne(ctx,
			bson.M{"_id": id, "version": before.Version},
			bson.M{"$set": set},
		)
		if err != nil {
			return models.Receipt{}, fmt.Errorf("failed to update receipt: %w", err)
		}
		if res.MatchedCount == 1 {
			after.Version = before.Version + 1
			return after, nil
		}
		s.logger.Debug("receipt version moved, retrying update",
			zap.String("receipt_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return models.Receipt{}, ErrConflict
}
