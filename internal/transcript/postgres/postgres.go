// Package postgres persists completed turns and feedback to PostgreSQL.
//
// The in-memory transcript store remains the source of truth while a turn
// streams; this package is the durable archive behind it. Archiving a turn
// upserts both messages by ID, so re-archiving after a continuation updates
// the stitched assistant record in place instead of duplicating it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// Feedback kinds accepted by SaveMessageFeedback.
const (
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
)

var (
	// ErrInvalidFeedbackKind indicates a feedback kind outside like/dislike.
	ErrInvalidFeedbackKind = errors.New("invalid feedback kind")

	// ErrMessageNotFound indicates feedback referenced an unknown provider
	// message ID.
	ErrMessageNotFound = errors.New("message not found")
)

// MessageFeedback is a like/dislike vote on one assistant message.
type MessageFeedback struct {
	ProviderMessageID string
	Kind              string
	Email             string
}

// ContactFeedback is a free-form message from the contact form.
type ContactFeedback struct {
	Name    string
	Email   string
	Kind    string
	Message string
}

// Archive is the PostgreSQL-backed turn archive.
type Archive struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates an Archive on an existing connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Archive {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Archive{pool: pool, logger: logger}
}

// ArchiveTurn persists the session and both messages of a completed turn
// in one transaction. Messages are upserted by ID so a continued turn
// overwrites its earlier, shorter archive row.
func (a *Archive) ArchiveTurn(ctx context.Context, session transcript.Session, user, assistant transcript.Message) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, owner_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			updated_at = EXCLUDED.updated_at`,
		session.ID, session.OwnerID, session.Title, session.CreatedAt, session.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	for _, msg := range []transcript.Message{user, assistant} {
		if err := upsertMessage(ctx, tx, session.ID.String(), msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing archive transaction: %w", err)
	}
	a.logger.Debug("turn archived",
		"session_id", session.ID,
		"user_message_id", user.ID,
		"assistant_message_id", assistant.ID)
	return nil
}

func upsertMessage(ctx context.Context, tx pgx.Tx, sessionID string, msg transcript.Message) error {
	images, err := json.Marshal(msg.Images)
	if err != nil {
		return fmt.Errorf("encoding message images: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, images, finish_reason, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			images = EXCLUDED.images,
			finish_reason = EXCLUDED.finish_reason,
			provider_message_id = EXCLUDED.provider_message_id`,
		msg.ID, sessionID, string(msg.Role), msg.Text, images,
		string(msg.FinishReason), nullIfEmpty(msg.ProviderMessageID), msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("upserting %s message %d: %w", msg.Role, msg.ID, err)
	}
	return nil
}

// Messages loads a session's archived messages in transcript order.
func (a *Archive) Messages(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, role, content, images, finish_reason, COALESCE(provider_message_id, ''), created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying archived messages: %w", err)
	}
	defer rows.Close()

	var messages []transcript.Message
	for rows.Next() {
		var (
			msg    transcript.Message
			role   string
			finish string
			images []byte
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &images, &finish, &msg.ProviderMessageID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning archived message: %w", err)
		}
		msg.Role = transcript.Role(role)
		msg.FinishReason = transcript.FinishReason(finish)
		msg.Complete = true
		if len(images) > 0 {
			if err := json.Unmarshal(images, &msg.Images); err != nil {
				return nil, fmt.Errorf("decoding images for message %d: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archived messages: %w", err)
	}
	return messages, nil
}

// SaveMessageFeedback records a like/dislike vote keyed by the provider's
// message ID. The referenced assistant message must already be archived.
func (a *Archive) SaveMessageFeedback(ctx context.Context, fb MessageFeedback) error {
	if fb.Kind != FeedbackLike && fb.Kind != FeedbackDislike {
		return fmt.Errorf("%w: %q", ErrInvalidFeedbackKind, fb.Kind)
	}

	var exists bool
	if err := a.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE provider_message_id = $1)`,
		fb.ProviderMessageID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking message existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: provider message id %q", ErrMessageNotFound, fb.ProviderMessageID)
	}

	if _, err := a.pool.Exec(ctx, `
		INSERT INTO message_feedback (provider_message_id, kind, email, created_at)
		VALUES ($1, $2, $3, $4)`,
		fb.ProviderMessageID, fb.Kind, nullIfEmpty(fb.Email), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("saving message feedback: %w", err)
	}
	return nil
}

// SaveContactFeedback records a contact-form submission.
func (a *Archive) SaveContactFeedback(ctx context.Context, fb ContactFeedback) error {
	if _, err := a.pool.Exec(ctx, `
		INSERT INTO contact_feedback (name, email, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		fb.Name, fb.Email, fb.Kind, fb.Message, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("saving contact feedback: %w", err)
	}
	return nil
}

// Ping reports archive reachability. Used by the readiness probe.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
