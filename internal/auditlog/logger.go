package auditlog

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/pushrelay/pkg/event"
	"go.uber.org/zap"
)

// defaultWriteTimeout は非同期書き込み1件あたりのタイムアウト。
const defaultWriteTimeout = 10 * time.Second

// Logger は通知ペイロードを監査ログストアに記録する。
type Logger struct {
	// store は監査ログの保存先。
	store Store
	// logger は書き込み失敗を記録する構造化ロガー。
	logger *zap.Logger
	// writeTimeout は非同期書き込み1件あたりのタイムアウト。
	writeTimeout time.Duration
	// newKey はエントリのキーを生成する。
	newKey func() string
	// wg は実行中の非同期書き込みを追跡する。
	wg sync.WaitGroup
}

// Option はLoggerの設定を変更する。
type Option func(*Logger)

// WithWriteTimeout は非同期書き込みのタイムアウトを設定する。
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// NewLogger は新しい監査ロガーを生成する。
func NewLogger(store Store, logger *zap.Logger, opts ...Option) *Logger {
	l := &Logger{
		store:        store,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		newKey:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogNotification はペイロードの書き込みを別のgoroutineで開始し、すぐに戻る。
// 書き込みに失敗した場合はログに記録する。
func (l *Logger) LogNotification(payload string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()

		key, err := l.Write(ctx, payload)
		if err != nil {
			l.logger.Error("監査ログの書き込みに失敗", zap.Error(err))
			return
		}
		l.logger.Debug("監査ログを書き込みました", zap.String("key", key))
	}()
}

// Write はペイロードを同期的に書き込み、生成したキーを返す。
func (l *Logger) Write(ctx context.Context, payload string) (string, error) {
	body, err := event.EncodeAuditRecord(payload)
	if err != nil {
		return "", err
	}
	key := l.newKey()
	if err := l.store.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("監査ログエントリ %s の保存に失敗: %w", key, err)
	}
	return key, nil
}

// Wait は実行中の非同期書き込みがすべて完了するまで待つ。
func (l *Logger) Wait() {
	l.wg.Wait()
}

// RetrieveAll は保存済みのすべてのエントリを走査し、元のペイロード文字列を順に返す。
// エントリは取り出されるたびに1件ずつ読み込まれる。
// 途中でエラーが発生した場合はエラーを1度返して走査を終える。
// 走査をやり直すには再度呼び出す。
func (l *Logger) RetrieveAll(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		keys, err := l.store.Keys(ctx)
		if err != nil {
			yield("", fmt.Errorf("監査ログのキー一覧の取得に失敗: %w", err))
			return
		}

		for _, key := range keys {
			body, err := l.store.Get(ctx, key)
			if err != nil {
				yield("", fmt.Errorf("監査ログエントリ %s の取得に失敗: %w", key, err))
				return
			}
			payload, err := event.DecodeAuditRecord(body)
			if err != nil {
				yield("", fmt.Errorf("監査ログエントリ %s の解析に失敗: %w", key, err))
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}
