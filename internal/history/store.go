package history

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/telegrab/telegrab/internal/database"
)

type (
	// Record is a single finalised download as persisted to the downloads
	// table. FailureReason is nil for downloads which concluded successfully.
	Record struct {
		ID            uuid.UUID `db:"id"`
		ChatID        int64     `db:"chat_id"`
		URL           string    `db:"url"`
		Title         string    `db:"title"`
		Mode          string    `db:"mode"`
		Height        int       `db:"height"`
		State         string    `db:"state"`
		SizeBytes     int64     `db:"size_bytes"`
		Delivered     bool      `db:"delivered"`
		FailureReason *string   `db:"failure_reason"`
		CreatedAt     time.Time `db:"created_at"`
		CompletedAt   time.Time `db:"completed_at"`
	}

	Store struct{}
)

func NewStore() *Store { return &Store{} }

// Save inserts the record provided. Completion time is set by the database.
func (store *Store) Save(db database.Queryable, record *Record) error {
	query, args, err := squirrel.
		Insert("downloads").
		Columns("id", "chat_id", "url", "title", "mode", "height", "state", "size_bytes", "delivered", "failure_reason", "created_at").
		Values(record.ID, record.ChatID, record.URL, record.Title, record.Mode, record.Height, record.State, record.SizeBytes, record.Delivered, record.FailureReason, record.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct insert download query: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert download record: %w", err)
	}

	return nil
}

// LatestForChat returns the most recently completed records for the chat
// provided, newest first.
func (store *Store) LatestForChat(db database.Queryable, chatID int64, limit int) ([]*Record, error) {
	query, args, err := selectDownloadBuilder().
		Where(squirrel.Eq{"chat_id": chatID}).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list downloads query: %w", err)
	}

	var results []Record
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	output := make([]*Record, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

// Latest returns the most recently completed records across all chats,
// newest first.
func (store *Store) Latest(db database.Queryable, limit int) ([]*Record, error) {
	query, args, err := selectDownloadBuilder().
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list downloads query: %w", err)
	}

	var results []Record
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	output := make([]*Record, len(results))
	for k := range results {
		output[k] = &results[k]
	}

	return output, nil
}

func selectDownloadBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("id", "chat_id", "url", "title", "mode", "height", "state", "size_bytes", "delivered", "failure_reason", "created_at", "completed_at").
		From("downloads").
		OrderBy("completed_at DESC").
		PlaceholderFormat(squirrel.Dollar)
}
