package broadcast

import "errors"

// ErrSinkClosed はクローズ済みのSinkへの書き込みを表す。
var ErrSinkClosed = errors.New("購読者の接続はクローズ済みです")

// Sink は購読者への送信路を表す。
// 実装は並行呼び出しに対して安全でなければならない。
type Sink interface {
	// Send はシリアライズ済みの通知ペイロードを購読者に書き込む。
	// 書き込みに失敗した場合やタイムアウトした場合はエラーを返す。
	Send(payload []byte) error
	// Close は接続をクローズする。複数回呼び出しても安全である。
	Close() error
	// Done は接続がクローズされたときにクローズされるチャネルを返す。
	Done() <-chan struct{}
}

// closed はSinkがクローズ済みかどうかをブロックせずに判定する。
func closed(s Sink) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
