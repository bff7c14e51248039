package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/nao1215/pushrelay/pkg/migration"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore はSQLiteをバックエンドとするユーザーレジストリ。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore はSQLiteデータベースを開き、スキーマを適用したSQLiteStoreを返す。
func OpenSQLiteStore(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore は接続済みのデータベースにスキーマを適用したSQLiteStoreを返す。
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("レジストリのスキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Exists はIDのユーザーが登録済みかを返す。
func (s *SQLiteStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	return exists, nil
}

// Insert はユーザーを登録する。
// IDが既に存在する場合は何も変更せずErrAlreadyExistsを返す。
func (s *SQLiteStore) Insert(ctx context.Context, u User) error {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, email) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING",
		u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("登録件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Delete はユーザーを削除し、削除前に存在していたかを返す。
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// Get はIDのユーザーを返す。
func (s *SQLiteStore) Get(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM users WHERE id = ?", id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
