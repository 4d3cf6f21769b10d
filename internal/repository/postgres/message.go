package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dmstream/internal/models"
	"github.com/lalith-99/dmstream/internal/repository"
)

// Postgres SQLSTATE codes we translate into repository errors.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
)

// Both directions of the pair. $1/$2 are the two participants.
const conversationFilter = `(sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`

type MessageStore struct {
	pool       *pgxpool.Pool
	maxContent int
}

func NewMessageStore(pool *pgxpool.Pool, maxContent int) *MessageStore {
	return &MessageStore{pool: pool, maxContent: maxContent}
}

func (s *MessageStore) Append(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	if err := repository.ValidateMessage(senderID, receiverID, content, s.maxContent); err != nil {
		return nil, err
	}

	// bigserial id and now() are assigned by Postgres. A single INSERT is
	// atomic, so either the whole row is committed or nothing is.
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, sender_id, receiver_id, content, created_at`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, senderID, receiverID, content).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, translate("insert message", err)
	}
	return &msg, nil
}

func (s *MessageStore) FindConversation(ctx context.Context, a, b int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return make([]models.Message, 0), nil
	}

	// Take the newest `limit` rows, then flip them to chronological order
	// so the view starts at the oldest of the recent messages.
	query := `
		SELECT id, sender_id, receiver_id, content, created_at FROM (
			SELECT id, sender_id, receiver_id, content, created_at
			FROM messages
			WHERE ` + conversationFilter + `
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, a, b, limit)
	if err != nil {
		return nil, translate("find conversation", err)
	}
	return collectMessages(rows)
}

func (s *MessageStore) FindPaginatedConversation(ctx context.Context, a, b int64, page, pageSize int) ([]models.Message, error) {
	if pageSize <= 0 {
		return make([]models.Message, 0), nil
	}

	// id breaks created_at ties so consecutive pages never overlap or skip
	// rows that share a timestamp.
	query := `
		SELECT id, sender_id, receiver_id, content, created_at
		FROM messages
		WHERE ` + conversationFilter + `
		ORDER BY created_at DESC, id DESC
		OFFSET $3
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, a, b, repository.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, translate("find paginated conversation", err)
	}
	return collectMessages(rows)
}

func (s *MessageStore) CountConversation(ctx context.Context, a, b int64) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE ` + conversationFilter

	var n int64
	if err := s.pool.QueryRow(ctx, query, a, b).Scan(&n); err != nil {
		return 0, translate("count conversation", err)
	}
	return int(n), nil
}

func (s *MessageStore) FindLastMessage(ctx context.Context, a, b int64) (*models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, created_at
		FROM messages
		WHERE ` + conversationFilter + `
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, a, b).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, translate("find last message", err)
	}
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, translate("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate messages", err)
	}

	return messages, nil
}

// translate maps driver errors onto the repository error kinds while
// keeping the original error in the chain.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrNotFound, err)
		case codeCheckViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrValidation, err)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, repository.ErrPersistence, err)
}
