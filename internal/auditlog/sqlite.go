package auditlog

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

// SQLiteStore はSQLiteに監査ログを保存するStore実装。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore はSQLiteデータベースを開き、スキーマを適用したSQLiteStoreを返す。
func OpenSQLiteStore(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが1本に限られるため接続を共有する
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore は接続済みのデータベースにスキーマを適用したSQLiteStoreを返す。
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("監査ログのスキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put はエントリを挿入する。
func (s *SQLiteStore) Put(ctx context.Context, key string, body []byte) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_logs (log_key, body) VALUES (?, ?)", key, string(body)); err != nil {
		return fmt.Errorf("監査ログの挿入に失敗: %w", err)
	}
	return nil
}

// Keys は書き込み順にすべてのキーを返す。
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT log_key FROM audit_logs ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("監査ログのキー一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Get はキーに対応するエントリを返す。存在しない場合は ErrNotFound を返す。
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM audit_logs WHERE log_key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	return []byte(body), nil
}

// Close はデータベース接続をクローズする。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
