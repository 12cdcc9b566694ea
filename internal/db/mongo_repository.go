package db

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

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

type conversationDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type messageDocument struct {
	ID             string    `bson:"_id"`
	Seq            int64     `bson:"seq"`
	ConversationID string    `bson:"conversation_id"`
	UserID         string    `bson:"user_id"`
	Role           string    `bson:"role"`
	ContentType    string    `bson:"content_type"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d conversationDocument) model() models.Conversation {
	return models.Conversation{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (d messageDocument) model() models.Message {
	return models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		UserID:         d.UserID,
		Role:           models.Role(d.Role),
		ContentKind:    models.ContentKind(d.ContentType),
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
	}
}

// MongoStore implements store.Store on the conversations and messages
// collections. A counter document supplies the seq tie-break for messages
// written within the same millisecond.
type MongoStore struct {
	m   *Mongo
	now func() time.Time
}

var _ store.Store = (*MongoStore)(nil)

func NewMongoStore(m *Mongo) *MongoStore {
	return &MongoStore{m: m, now: time.Now}
}

func (s *MongoStore) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, store.ErrUserIDRequired
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	doc := conversationDocument{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.m.Conversations.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongo insert conversation: %w", err)
	}

	conv := doc.model()
	return &conv, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var doc conversationDocument
	err := s.m.Conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find conversation: %w", err)
	}

	conv := doc.model()
	return &conv, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := s.m.Conversations.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []conversationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode conversations: %w", err)
	}

	list := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc.model())
	}
	return list, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := s.m.Messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode messages: %w", err)
	}

	list := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc.model())
	}
	return list, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, rec models.NewMessage) (*models.Message, error) {
	if err := store.ValidateNewMessage(rec); err != nil {
		return nil, err
	}

	if _, err := s.GetConversation(ctx, rec.ConversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrConversationNotFound
		}
		return nil, err
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return nil, err
	}

	doc := messageDocument{
		ID:             uuid.NewString(),
		Seq:            seq,
		ConversationID: rec.ConversationID,
		UserID:         rec.UserID,
		Role:           string(rec.Role),
		ContentType:    string(rec.ContentKind),
		Content:        rec.Content,
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.m.Messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongo insert message: %w", err)
	}

	update := bson.M{"$max": bson.M{"updated_at": doc.CreatedAt}}
	if _, err := s.m.Conversations.UpdateByID(ctx, rec.ConversationID, update); err != nil {
		return nil, fmt.Errorf("mongo touch conversation: %w", err)
	}

	msg := doc.model()
	return &msg, nil
}

func (s *MongoStore) nextSeq(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.m.Counters.FindOneAndUpdate(ctx, bson.M{"_id": "messages"}, bson.M{"$inc": bson.M{"value": 1}}, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongo next message seq: %w", err)
	}
	return counter.Value, nil
}
