package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Storage is a SQL-backed implementation of the storage interface
type Storage struct {
	db      *sql.DB
	dialect Dialect
}

// NewWithDB wraps an already migrated database (for testing)
func NewWithDB(db *sql.DB, dialect Dialect) *Storage {
	return &Storage{db: db, dialect: dialect}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

const fortuneColumns = `id, text, category, rarity, added_by_user_id, created_at`

// User operations

func (s *Storage) FindUserByCredentials(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	if !storage.CredentialMatches(user.CredentialHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Storage) UserExists(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = ?)`

	var exists bool
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, query), username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query :=
		`SELECT id, username, credential_hash, reputation, created_at FROM users
		 WHERE username = ?`

	user := &model.User{}
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, query), username).
		Scan(&user.ID, &user.Username, &user.CredentialHash, &user.Reputation, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (s *Storage) CreateUser(ctx context.Context, username, password string, at time.Time) (*model.User, error) {
	hash, err := storage.HashCredential(password)
	if err != nil {
		return nil, err
	}

	query :=
		`INSERT INTO users (username, credential_hash, reputation, created_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING id`

	user := &model.User{
		Username:       username,
		CredentialHash: hash,
		CreatedAt:      at.UTC(),
	}
	err = s.db.QueryRowContext(ctx, rebind(s.dialect, query), username, hash, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUsernameTaken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// Fortune operations

func (s *Storage) QueryFortunes(ctx context.Context, category *model.Category) ([]*model.Fortune, error) {
	query := `SELECT ` + fortuneColumns + ` FROM fortunes`
	var args []any
	if category != nil {
		query += ` WHERE category = ?`
		args = append(args, int(*category))
	}
	query += ` ORDER BY id`

	return queryFortunes(ctx, s.db, rebind(s.dialect, query), args...)
}

func (s *Storage) CreateFortune(ctx context.Context, f *model.Fortune) (*model.Fortune, error) {
	return insertFortune(ctx, s.db, s.dialect, f)
}

func (s *Storage) FortunesBySubmitter(ctx context.Context, userID model.UserID) ([]*model.Fortune, error) {
	query := `SELECT ` + fortuneColumns + ` FROM fortunes
		 WHERE added_by_user_id = ?
		 ORDER BY created_at DESC, id DESC`

	return queryFortunes(ctx, s.db, rebind(s.dialect, query), int64(userID))
}

func (s *Storage) SeedFortunes(ctx context.Context, fortunes []*model.Fortune) (int, error) {
	inserted := 0
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fortunes`).Scan(&count); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if count > 0 {
			return nil
		}
		for _, f := range fortunes {
			if _, err := insertFortune(ctx, tx, s.dialect, f); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertFortune(ctx context.Context, db DBTX, dialect Dialect, f *model.Fortune) (*model.Fortune, error) {
	query :=
		`INSERT INTO fortunes (text, category, rarity, added_by_user_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`

	stored := f.Clone()
	stored.LuckyNumbers = nil
	stored.CreatedAt = f.CreatedAt.UTC()

	var submitter sql.NullInt64
	if f.AddedByUserID != nil {
		submitter = sql.NullInt64{Int64: int64(*f.AddedByUserID), Valid: true}
	}

	err := db.QueryRowContext(ctx, rebind(dialect, query),
		stored.Text, int(stored.Category), int(stored.Rarity), submitter, stored.CreatedAt).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stored, nil
}

func queryFortunes(ctx context.Context, db DBTX, query string, args ...any) ([]*model.Fortune, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	fortunes := []*model.Fortune{}
	for rows.Next() {
		var (
			f         model.Fortune
			submitter sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.Text, &f.Category, &f.Rarity, &submitter, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if submitter.Valid {
			id := model.UserID(submitter.Int64)
			f.AddedByUserID = &id
		}
		fortunes = append(fortunes, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return fortunes, nil
}

// History operations

func (s *Storage) AppendHistory(ctx context.Context, userID model.UserID, fortuneID model.FortuneID, at time.Time) error {
	query :=
		`INSERT INTO fortune_history (user_id, fortune_id, received_at)
		 VALUES (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, rebind(s.dialect, query), int64(userID), int64(fortuneID), at.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Storage) HistoryForUser(ctx context.Context, userID model.UserID) ([]model.HistoryRecord, error) {
	query :=
		`SELECT f.text, f.rarity, h.received_at
		 FROM fortune_history h
		 JOIN fortunes f ON f.id = h.fortune_id
		 WHERE h.user_id = ?
		 ORDER BY h.received_at DESC, h.id DESC`

	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), int64(userID))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	records := []model.HistoryRecord{}
	for rows.Next() {
		var r model.HistoryRecord
		if err := rows.Scan(&r.FortuneText, &r.Rarity, &r.Date); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return records, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("db error: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
