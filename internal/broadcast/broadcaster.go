package broadcast

import (
	"sync"

	"github.com/nao1215/pushrelay/pkg/event"
	"go.uber.org/zap"
)

// Auditor は配信した通知を監査ログに記録する。
// LogNotificationは呼び出し元をブロックしてはならない。
type Auditor interface {
	LogNotification(payload string)
}

// Broadcaster は単一の購読者を保持し、通知を配信する。
// 購読者スロットは Empty と Attached の2状態のみを取る。
type Broadcaster struct {
	// mu は current へのアクセスと購読者への書き込みを直列化する。
	mu sync.Mutex
	// current は現在の購読者。nilの場合はEmpty状態。
	current Sink
	// auditor は監査ログの記録先。
	auditor Auditor
	// logger は構造化ロガー。
	logger *zap.Logger
}

// New は新しいBroadcasterを生成する。初期状態は購読者なし。
func New(auditor Auditor, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		auditor: auditor,
		logger:  logger,
	}
}

// Register は購読者を登録する。既存の購読者がいる場合はクローズしてから置き換える。
// 登録された購読者の接続がクローズされると、スロットは自動的に空になる。
func (b *Broadcaster) Register(s Sink) {
	b.mu.Lock()
	if b.current != nil && b.current != s {
		if err := b.current.Close(); err != nil {
			b.logger.Warn("以前の購読者のクローズに失敗", zap.Error(err))
		}
		b.logger.Info("購読者を置き換えます")
	}
	b.current = s
	b.mu.Unlock()

	b.logger.Info("購読者を登録しました")
	go b.watch(s)
}

// watch は購読者の接続クローズを待ち、スロットがまだその購読者を指していれば空にする。
func (b *Broadcaster) watch(s Sink) {
	<-s.Done()
	b.detach(s)
}

// Unregister は指定された購読者がまだ登録されていればスロットを空にし、接続をクローズする。
func (b *Broadcaster) Unregister(s Sink) {
	b.detach(s)
	if err := s.Close(); err != nil {
		b.logger.Warn("購読者のクローズに失敗", zap.Error(err))
	}
}

func (b *Broadcaster) detach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == s {
		b.current = nil
		b.logger.Info("購読者が切断されました")
	}
}

// Attached は現在有効な購読者が登録されているかを返す。
func (b *Broadcaster) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && closed(b.current) {
		b.current = nil
	}
	return b.current != nil
}

// Publish は通知を現在の購読者に配信し、監査ログへの記録を開始する。
// 購読者がいない場合や書き込みに失敗した場合も通知は監査ログに記録され、
// エラーは返さない。返り値の delivered は購読者への書き込みが成功したかを表す。
// idまたはmessageが空の場合は event.ErrInvalidNotification を返す。
func (b *Broadcaster) Publish(n event.Notification) (delivered bool, err error) {
	if err := n.Validate(); err != nil {
		return false, err
	}
	payload, err := n.Encode()
	if err != nil {
		return false, err
	}

	delivered = b.deliver(payload, n.ID)

	// 監査ログの記録は配信ロックを解放した後に行う
	b.auditor.LogNotification(string(payload))
	return delivered, nil
}

// deliver は購読者への書き込みをロック内で行う。
// 書き込みに失敗した購読者は切断済みとして扱い、スロットを空にする。
func (b *Broadcaster) deliver(payload []byte, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		b.logger.Debug("購読者がいないため配信をスキップします", zap.String("notification_id", id))
		return false
	}

	if closed(b.current) {
		b.current = nil
		b.logger.Debug("購読者が切断済みのため配信をスキップします", zap.String("notification_id", id))
		return false
	}

	if err := b.current.Send(payload); err != nil {
		b.logger.Warn("購読者への配信に失敗したため切断します",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		_ = b.current.Close()
		b.current = nil
		return false
	}
	return true
}

// Close は現在の購読者を切断する。サーバー停止時に使用する。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		_ = b.current.Close()
		b.current = nil
	}
}
