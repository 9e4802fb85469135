package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// userDocument is the stored shape of a user. emailKey holds the normalized
// email and carries the unique index.
type userDocument struct {
	ID              string    `bson:"_id"`
	Email           string    `bson:"email"`
	EmailKey        string    `bson:"emailKey"`
	Name            string    `bson:"name"`
	PasswordHash    string    `bson:"passwordHash"`
	Role            string    `bson:"role"`
	AccountStatus   string    `bson:"accountStatus"`
	StatusNote      string    `bson:"statusNote,omitempty"`
	IsEmailVerified bool      `bson:"isEmailVerified"`
	MFAEnabled      bool      `bson:"is2FaEnabled"`
	MFASecret       string    `bson:"mfaSecret,omitempty"`
	SocialProvider  string    `bson:"socialProvider,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

type auditDocument struct {
	UserID    string                 `bson:"userId,omitempty"`
	EventType string                 `bson:"eventType"`
	IP        string                 `bson:"ipAddress"`
	Metadata  map[string]interface{} `bson:"metadata"`
	CreatedAt time.Time              `bson:"createdAt"`
}

// MongoUserRepo implements domain.UserRepository on MongoDB.
type MongoUserRepo struct {
	users  *mongo.Collection
	audits *mongo.Collection
}

// NewMongoUserRepo creates a new repository instance over the given database.
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{
		users:  db.Collection("users"),
		audits: db.Collection("audit_logs"),
	}
}

// EnsureIndexes creates the unique email index. Safe to call on every start.
func (r *MongoUserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "emailKey", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_email_key"),
	})
	if err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}
	return nil
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.D) (*domain.User, error) {
	var doc userDocument
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.D{{Key: "emailKey", Value: domain.NormalizeEmail(email)}})
}

func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoUserRepo) Create(ctx context.Context, user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.DefaultRole
	}
	if user.AccountStatus == "" {
		user.AccountStatus = domain.AccountActive
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, newUserDocument(user)); err != nil {
		return insertUserError(err)
	}
	return nil
}

// insertUserError maps a duplicate emailKey to ErrUserExists.
func insertUserError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrUserExists
	}
	return fmt.Errorf("failed to create user: %w", err)
}

func (r *MongoUserRepo) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.users.ReplaceOne(ctx, bson.D{{Key: "_id", Value: user.ID}}, newUserDocument(user))
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	_, err := r.audits.InsertOne(ctx, auditDocument{
		UserID:    userID,
		EventType: eventType,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func newUserDocument(u *domain.User) userDocument {
	return userDocument{
		ID:              u.ID,
		Email:           u.Email,
		EmailKey:        domain.NormalizeEmail(u.Email),
		Name:            u.Name,
		PasswordHash:    u.PasswordHash,
		Role:            u.Role,
		AccountStatus:   string(u.AccountStatus),
		StatusNote:      u.StatusNote,
		IsEmailVerified: u.IsEmailVerified,
		MFAEnabled:      u.MFAEnabled,
		MFASecret:       u.MFASecret,
		SocialProvider:  u.SocialProvider,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (d userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:              d.ID,
		Email:           d.Email,
		Name:            d.Name,
		PasswordHash:    d.PasswordHash,
		Role:            d.Role,
		AccountStatus:   domain.AccountStatus(d.AccountStatus),
		StatusNote:      d.StatusNote,
		IsEmailVerified: d.IsEmailVerified,
		MFAEnabled:      d.MFAEnabled,
		MFASecret:       d.MFASecret,
		SocialProvider:  d.SocialProvider,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
