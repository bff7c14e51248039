package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SSESink はServer-Sent Eventsのレスポンスを購読者の送信路として扱う。
type SSESink struct {
	// mu は書き込みとクローズを直列化する。
	mu sync.Mutex
	// w はストリーミング中のHTTPレスポンス。
	w http.ResponseWriter
	// rc は書き込み期限の設定とフラッシュに使用する。
	rc *http.ResponseController
	// writeTimeout は1回の書き込みに許容する時間。0以下の場合は無制限。
	writeTimeout time.Duration
	closed       bool
	done         chan struct{}
}

// NewSSESink はHTTPレスポンスを包むSSESinkを生成する。
func NewSSESink(w http.ResponseWriter, writeTimeout time.Duration) *SSESink {
	return &SSESink{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Open はストリーミング用のレスポンスヘッダーを送信する。
func (s *SSESink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// リバースプロキシによるバッファリングを無効にする
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("ストリームのフラッシュに失敗: %w", err)
	}
	return nil
}

// Send はペイロードをSSEフレームとして書き込む。
func (s *SSESink) Send(payload []byte) error {
	return s.write(EncodeFrame(payload))
}

// KeepAlive はコメント行を送信して接続を維持する。
// 切断済みの接続を検出する役割も持つ。
func (s *SSESink) KeepAlive() error {
	return s.write(keepAliveFrame)
}

func (s *SSESink) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.writeTimeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("書き込み期限の設定に失敗: %w", err)
		}
		if err == nil {
			defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
		}
	}

	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("ストリームへの書き込みに失敗: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("ストリームのフラッシュに失敗: %w", err)
	}
	return nil
}

// Close はSinkをクローズする。以降の書き込みは ErrSinkClosed を返す。
// レスポンス自体はハンドラーの終了によって閉じられる。
func (s *SSESink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Done はSinkがクローズされたときにクローズされるチャネルを返す。
func (s *SSESink) Done() <-chan struct{} {
	return s.done
}
