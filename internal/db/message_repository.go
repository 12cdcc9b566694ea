package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

// PostgresStore implements store.Store on top of the pgx pool.
type PostgresStore struct {
	pg *Postgres
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgresStore(pg *Postgres) *PostgresStore {
	return &PostgresStore{pg: pg}
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, store.ErrUserIDRequired
	}

	conv := models.Conversation{ID: uuid.NewString(), UserID: userID, Title: title}
	const query = `INSERT INTO conversations (id, user_id, title) VALUES ($1, $2, $3) RETURNING created_at, updated_at`
	if err := s.pg.Pool.QueryRow(ctx, query, conv.ID, conv.UserID, conv.Title).Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres insert conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	const query = `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1`
	err := s.pg.Pool.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres query conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	const query = `SELECT id, user_id, title, created_at, updated_at FROM conversations
		WHERE user_id = $1 ORDER BY updated_at DESC, id ASC`
	rows, err := s.pg.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan conversation: %w", err)
		}
		list = append(list, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list conversations: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	const query = `SELECT id, conversation_id, user_id, role, content_type, content, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`
	rows, err := s.pg.Pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres list messages: %w", err)
	}
	defer rows.Close()

	list := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Role, &msg.ContentKind, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan message: %w", err)
		}
		list = append(list, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list messages: %w", err)
	}
	return list, nil
}

// AppendMessage inserts the message and advances the conversation's updated_at
// in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, rec models.NewMessage) (*models.Message, error) {
	if err := store.ValidateNewMessage(rec); err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: rec.ConversationID,
		UserID:         rec.UserID,
		Role:           rec.Role,
		ContentKind:    rec.ContentKind,
		Content:        rec.Content,
	}

	tx, err := s.pg.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO messages (id, conversation_id, user_id, role, content_type, content)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	if err := tx.QueryRow(ctx, insert, msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.ContentKind, msg.Content).Scan(&msg.CreatedAt); err != nil {
		return nil, classifyAppendError(err)
	}

	const touch = `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, touch, msg.ConversationID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres commit message: %w", err)
	}
	return &msg, nil
}

const (
	roleCheckConstraint        = "messages_role_check"
	contentTypeCheckConstraint = "messages_content_type_check"
)

func classifyAppendError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return store.ErrConversationNotFound
		case pgerrcode.CheckViolation:
			switch pgErr.ConstraintName {
			case contentTypeCheckConstraint:
				return fmt.Errorf("%w: %s", store.ErrInvalidContentKind, pgErr.ConstraintName)
			case roleCheckConstraint:
				return fmt.Errorf("%w: %s", store.ErrInvalidRole, pgErr.ConstraintName)
			}
		}
	}
	return fmt.Errorf("postgres insert message: %w", err)
}
