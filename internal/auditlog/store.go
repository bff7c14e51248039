package auditlog

import (
	"context"
	"errors"
)

// ErrNotFound は指定したキーのエントリが存在しないことを表す。
var ErrNotFound = errors.New("監査ログエントリが見つかりません")

// Store は監査ログエントリの保存先を表す。
// エントリは書き込み後に変更されない。
type Store interface {
	// Put はキーに対応するエントリを書き込む。
	Put(ctx context.Context, key string, body []byte) error
	// Keys は保存済みのすべてのキーを返す。
	Keys(ctx context.Context) ([]string, error)
	// Get はキーに対応するエントリの内容を返す。
	Get(ctx context.Context, key string) ([]byte, error)
}
