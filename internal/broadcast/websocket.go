package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// pongWait はpong応答を待つ最大時間。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くなければならない。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize は購読者から受け付けるメッセージの最大サイズ。
	maxMessageSize = 512
)

// WebSocketSink はWebSocket接続を購読者の送信路として扱う。
// 通知ペイロードはJSONのテキストメッセージとして送信する。
type WebSocketSink struct {
	// mu は書き込みとクローズを直列化する。gorilla/websocketは並行書き込みを許さない。
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool
	done         chan struct{}
}

// NewWebSocketSink はWebSocket接続を包むWebSocketSinkを生成する。
func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	return &WebSocketSink{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send はペイロードをテキストメッセージとして書き込む。
func (s *WebSocketSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("書き込み期限の設定に失敗: %w", err)
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("WebSocketへの書き込みに失敗: %w", err)
	}
	return nil
}

func (s *WebSocketSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.deadline()))
}

func (s *WebSocketSink) deadline() time.Duration {
	if s.writeTimeout > 0 {
		return s.writeTimeout
	}
	return 10 * time.Second
}

// Serve は接続がクローズされるまで購読者からのメッセージを読み捨てる。
// 読み込みはクローズフレームとpongの処理に必要となる。
// 定期的にpingを送信し、応答が無い接続は切断する。
// 戻る前にSinkをクローズする。
func (s *WebSocketSink) Serve() {
	defer s.Close() //nolint:errcheck

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.ping(); err != nil {
					_ = s.Close()
					return
				}
			case <-s.done:
				return
			}
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close はクローズフレームを送信して接続をクローズする。
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.deadline()))
	return s.conn.Close()
}

// Done はSinkがクローズされたときにクローズされるチャネルを返す。
func (s *WebSocketSink) Done() <-chan struct{} {
	return s.done
}
