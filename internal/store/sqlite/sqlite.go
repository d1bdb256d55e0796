package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carelinkhq/carecall/internal/store"
	"github.com/carelinkhq/carecall/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id             TEXT PRIMARY KEY,
	appointment_id TEXT NOT NULL UNIQUE,
	provider_id    TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	author_id   TEXT NOT NULL,
	author_name TEXT NOT NULL,
	author_role TEXT NOT NULL,
	body        TEXT NOT NULL,
	image_url   TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs a setup function. Useful for
// tests that want to control the schema directly.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureChat returns the chat for the appointment, creating it on first use.
func (s *SQLiteStore) EnsureChat(ctx context.Context, appointmentID, providerID, clientID string) (*store.Chat, error) {
	existing, err := s.getChatByAppointment(ctx, appointmentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	id := utils.NewID()
	query := `
		INSERT INTO chats (id, appointment_id, provider_id, client_id)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, appointmentID, providerID, clientID); err != nil {
		// A concurrent creator may have won the unique race.
		if retry, retryErr := s.getChatByAppointment(ctx, appointmentID); retryErr == nil {
			return retry, nil
		}
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	return s.GetChatByID(ctx, id)
}

// GetChatByID retrieves a chat by id.
func (s *SQLiteStore) GetChatByID(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, appointment_id, provider_id, client_id, created_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID,
		&chat.AppointmentID,
		&chat.ProviderID,
		&chat.ClientID,
		&chat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat not found: %w", err)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) getChatByAppointment(ctx context.Context, appointmentID string) (*store.Chat, error) {
	query := `
		SELECT id, appointment_id, provider_id, client_id, created_at
		FROM chats
		WHERE appointment_id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, appointmentID).Scan(
		&chat.ID,
		&chat.AppointmentID,
		&chat.ProviderID,
		&chat.ClientID,
		&chat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// SaveMessage persists a message and fills its ID and CreatedAt.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (chat_id, author_id, author_name, author_role, body, image_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.ChatID, msg.AuthorID, msg.AuthorName, msg.AuthorRole, msg.Body, msg.ImageURL)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	row := s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = ?`, id)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("read message timestamp: %w", err)
	}
	return nil
}

// ListMessages retrieves messages oldest first with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, beforeID *int64) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Select the newest page, then return it in ascending order.
	query := `
		SELECT id, chat_id, author_id, author_name, author_role, body, image_url, created_at
		FROM (
			SELECT id, chat_id, author_id, author_name, author_role, body, image_url, created_at
			FROM messages
			WHERE chat_id = ? AND (? IS NULL OR id < ?)
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, beforeID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.AuthorID,
			&msg.AuthorName,
			&msg.AuthorRole,
			&msg.Body,
			&msg.ImageURL,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

var _ store.Store = (*SQLiteStore)(nil)
