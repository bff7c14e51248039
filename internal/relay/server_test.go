package relay

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/pushrelay/internal/auditlog"
	"github.com/nao1215/pushrelay/internal/broadcast"
	"github.com/nao1215/pushrelay/internal/config"
	"github.com/nao1215/pushrelay/internal/registry"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig はテスト用の設定を返す。キープアライブはフレーム検証の妨げにならない長さにする。
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Port = "0"
	cfg.Stream.WriteTimeout = time.Second
	cfg.Stream.KeepAlive = time.Minute
	return cfg
}

// openMemoryDB はテスト用のインメモリSQLiteを開く。
func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// testEnv はテスト用に構築したサーバーと依存コンポーネント。
type testEnv struct {
	server      *Server
	broadcaster *broadcast.Broadcaster
	audit       *auditlog.Logger
	users       *registry.SQLiteStore
}

// setupTestServer はテスト用のリレーサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	users, err := registry.NewSQLiteStore(t.Context(), openMemoryDB(t), logger)
	if err != nil {
		t.Fatalf("レジストリの初期化に失敗: %v", err)
	}
	store, err := auditlog.NewSQLiteStore(t.Context(), openMemoryDB(t), logger)
	if err != nil {
		t.Fatalf("監査ログストアの初期化に失敗: %v", err)
	}
	audit := auditlog.NewLogger(store, logger)
	b := broadcast.New(audit, logger)
	t.Cleanup(func() {
		b.Close()
		audit.Wait()
	})

	return &testEnv{
		server:      NewServer(cfg, b, users, audit, logger),
		broadcaster: b,
		audit:       audit,
		users:       users,
	}
}

// do はルーターにリクエストを送り、レスポンスを返す。
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

// TestHealth はヘルスチェックを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("購読者がいない場合にsubscriberがfalseであること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodGet, "/health", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if resp["status"] != "ok" || resp["service"] != "pushrelay" || resp["subscriber"] != false {
			t.Errorf("レスポンス = %v", resp)
		}
	})

	t.Run("ルートパスが稼働メッセージを返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodGet, "/", "")
		if w.Code != http.StatusOK || w.Body.Len() == 0 {
			t.Errorf("ステータスコード = %d, body = %q", w.Code, w.Body.String())
		}
	})
}

// TestHandlePublish は通知投稿ハンドラーを検証する。
func TestHandlePublish(t *testing.T) {
	t.Parallel()

	t.Run("購読者がいなくても成功し監査ログに1件記録されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodPost, "/notifications", `{"id":"1","message":"hello"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Body.String() != "success" {
			t.Errorf("body = %q, want %q", w.Body.String(), "success")
		}
		env.audit.Wait()

		logs := env.do(t, http.MethodGet, "/logs", "")
		var got []string
		if err := json.Unmarshal(logs.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(got) != 1 || got[0] != `{"id":"1","message":"hello"}` {
			t.Errorf("監査ログ = %v", got)
		}
	})

	t.Run("不正なリクエストは400になり監査ログに記録されないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		for _, body := range []string{
			`not json`,
			`{"id":"","message":"hello"}`,
			`{"id":"1","message":""}`,
			`{"message":"hello"}`,
			`{"id":1,"message":"hello"}`,
		} {
			w := env.do(t, http.MethodPost, "/notifications", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("body %s: ステータスコード = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
		}
		env.audit.Wait()

		logs := env.do(t, http.MethodGet, "/logs", "")
		if logs.Body.String() != "[]" {
			t.Errorf("監査ログ = %s, want []", logs.Body.String())
		}
	})

	t.Run("レート制限を超えた投稿は429になること", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.PublishRateLimit = 0.001
		cfg.PublishRateBurst = 1
		env := setupTestServer(t, cfg)

		if w := env.do(t, http.MethodPost, "/notifications", `{"id":"1","message":"a"}`); w.Code != http.StatusOK {
			t.Fatalf("1件目のステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w := env.do(t, http.MethodPost, "/notifications", `{"id":"2","message":"b"}`); w.Code != http.StatusTooManyRequests {
			t.Errorf("2件目のステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})
}

// TestHandleAddUser はユーザー追加ハンドラーを検証する。
func TestHandleAddUser(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーを追加できること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodPost, "/adduser", `{"id":1,"name":"alice","email":"alice@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if w.Body.String() != `{"message":"User added"}` {
			t.Errorf("body = %s", w.Body.String())
		}
		if ok, _ := env.users.Exists(t.Context(), 1); !ok {
			t.Error("ユーザーが登録されていない")
		}
	})

	t.Run("数値文字列のIDを受け付けること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodPost, "/adduser", `{"id":"12","name":"bob","email":"bob@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if ok, _ := env.users.Exists(t.Context(), 12); !ok {
			t.Error("ユーザーが登録されていない")
		}
	})

	t.Run("重複したIDは500になり既存ユーザーが保持されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		env.do(t, http.MethodPost, "/adduser", `{"id":1,"name":"alice","email":"alice@example.com"}`)
		w := env.do(t, http.MethodPost, "/adduser", `{"id":1,"name":"mallory","email":"m@example.com"}`)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if w.Body.String() != `{"error":"Could not add user: id already exists"}` {
			t.Errorf("body = %s", w.Body.String())
		}
		u, err := env.users.Get(t.Context(), 1)
		if err != nil || u.Name != "alice" {
			t.Errorf("既存ユーザー = %+v, %v", u, err)
		}
	})

	t.Run("必須項目の欠落や不正なIDは400になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		for _, body := range []string{
			`{"name":"a","email":"a@example.com"}`,
			`{"id":1,"email":"a@example.com"}`,
			`{"id":1,"name":"a"}`,
			`{"id":"abc","name":"a","email":"a@example.com"}`,
			`{"id":1.5,"name":"a","email":"a@example.com"}`,
			`[]`,
		} {
			w := env.do(t, http.MethodPost, "/adduser", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("body %s: ステータスコード = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("ストアの障害は詳細付きの500になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		env.server.users = failingUsers{err: errors.New("disk full")}

		w := env.do(t, http.MethodPost, "/adduser", `{"id":1,"name":"a","email":"a@example.com"}`)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var resp map[string]string
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["error"] != "Could not create user" || resp["details"] != "disk full" {
			t.Errorf("レスポンス = %v", resp)
		}
	})
}

// TestHandleDeleteUser はユーザー削除ハンドラーを検証する。
func TestHandleDeleteUser(t *testing.T) {
	t.Parallel()

	t.Run("未登録のIDでも200を返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodDelete, "/deleteuser/404", "")
		if w.Code != http.StatusOK || w.Body.String() != `{"message":"User deleted"}` {
			t.Errorf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("削除後に同じIDで再登録できること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		add := `{"id":5,"name":"carol","email":"carol@example.com"}`
		if w := env.do(t, http.MethodPost, "/adduser", add); w.Code != http.StatusOK {
			t.Fatalf("追加のステータスコード = %d", w.Code)
		}
		if w := env.do(t, http.MethodDelete, "/deleteuser/5", ""); w.Code != http.StatusOK {
			t.Fatalf("削除のステータスコード = %d", w.Code)
		}
		if w := env.do(t, http.MethodPost, "/adduser", add); w.Code != http.StatusOK {
			t.Errorf("再追加のステータスコード = %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("数値でないIDは400になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		if w := env.do(t, http.MethodDelete, "/deleteuser/abc", ""); w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("ストアの障害は詳細付きの500になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		env.server.users = failingUsers{err: errors.New("locked")}

		w := env.do(t, http.MethodDelete, "/deleteuser/1", "")
		var resp map[string]string
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != http.StatusInternalServerError || resp["error"] != "Could not delete user" || resp["details"] != "locked" {
			t.Errorf("ステータスコード = %d, レスポンス = %v", w.Code, resp)
		}
	})
}

// TestHandleGetUser はユーザー取得ハンドラーを検証する。
func TestHandleGetUser(t *testing.T) {
	t.Parallel()

	t.Run("登録済みユーザーが返されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		if w := env.do(t, http.MethodPost, "/adduser", `{"id":"8","name":"dave","email":"dave@example.com"}`); w.Code != http.StatusOK {
			t.Fatalf("追加のステータスコード = %d", w.Code)
		}
		w := env.do(t, http.MethodGet, "/user/8", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var got registry.User
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのデコードに失敗: %v", err)
		}
		want := registry.User{ID: 8, Name: "dave", Email: "dave@example.com"}
		if got != want {
			t.Errorf("ユーザー = %+v, want %+v", got, want)
		}
	})

	t.Run("未登録のIDは404になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		w := env.do(t, http.MethodGet, "/user/404", "")
		if w.Code != http.StatusNotFound || w.Body.String() != `{"error":"User not found"}` {
			t.Errorf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("数値でないIDは400になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		if w := env.do(t, http.MethodGet, "/user/abc", ""); w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("ストアの障害は詳細付きの500になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		env.server.users = failingUsers{err: errors.New("throttled")}

		w := env.do(t, http.MethodGet, "/user/1", "")
		var resp map[string]string
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != http.StatusInternalServerError || resp["error"] != "Could not get user" || resp["details"] != "throttled" {
			t.Errorf("ステータスコード = %d, レスポンス = %v", w.Code, resp)
		}
	})
}

// TestHandleLogs は監査ログ取得ハンドラーを検証する。
func TestHandleLogs(t *testing.T) {
	t.Parallel()

	t.Run("投稿順にペイロードが返されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())

		for _, p := range []string{"a", "b"} {
			if _, err := env.audit.Write(t.Context(), p); err != nil {
				t.Fatalf("Write()でエラーが発生: %v", err)
			}
		}
		w := env.do(t, http.MethodGet, "/logs", "")
		if w.Code != http.StatusOK || w.Body.String() != `["a","b"]` {
			t.Errorf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("ストアの障害は500になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		env.server.audit = failingAudit{err: errors.New("bucket missing")}

		if w := env.do(t, http.MethodGet, "/logs", ""); w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

// TestCORS はプリフライトリクエストへの応答を検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodOptions, "/notifications", nil)
	req.Header.Set("Origin", "https://producer.example")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
}

// sseClient はテスト用のSSE購読者。
type sseClient struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// openSSE はSSEエンドポイントに接続し、レスポンスヘッダーを検証する。
func openSSE(t *testing.T, baseURL string) *sseClient {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, baseURL+"/sse", nil)
	if err != nil {
		t.Fatalf("リクエストの作成に失敗: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("SSEへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}
	return &sseClient{body: resp.Body, reader: bufio.NewReader(resp.Body)}
}

// readFrame は空行で終わる1フレームを読み込む。
func (c *sseClient) readFrame(t *testing.T) string {
	t.Helper()

	var frame bytes.Buffer
	for {
		line, err := c.reader.ReadString('\n')
		frame.WriteString(line)
		if err != nil {
			t.Fatalf("フレームの読み込みに失敗: %v (読み込み済み %q)", err, frame.String())
		}
		if line == "\n" {
			return frame.String()
		}
	}
}

// expectEOF はストリームがサーバー側から終了されることを確認する。
func (c *sseClient) expectEOF(t *testing.T) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, c.reader)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ストリームが異常終了した: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ストリームが終了しない")
	}
}

// waitAttached は購読者スロットが期待する状態になるまで待つ。
func waitAttached(t *testing.T, b *broadcast.Broadcaster, want bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for b.Attached() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Attached() が %v にならない", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startHTTPServer は実際のHTTPサーバーでリレーを起動する。
func startHTTPServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)
	// ストリーミング中のハンドラーを先に終了させる
	t.Cleanup(env.broadcaster.Close)
	return ts
}

// TestSSEStreaming はSSE購読者への配信を実際のHTTP接続で検証する。
func TestSSEStreaming(t *testing.T) {
	t.Parallel()

	t.Run("新しい購読者が以前の購読者を置き換えること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		ts := startHTTPServer(t, env)

		first := openSSE(t, ts.URL)
		waitAttached(t, env.broadcaster, true)

		second := openSSE(t, ts.URL)
		// 以前の購読者のストリームは閉じられる
		first.expectEOF(t)

		resp, err := http.Post(ts.URL+"/notifications", "application/json",
			strings.NewReader(`{"id":"1","message":"hello"}`))
		if err != nil {
			t.Fatalf("通知の投稿に失敗: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		if got, want := second.readFrame(t), "data: {\"id\":\"1\",\"message\":\"hello\"}\n\n"; got != want {
			t.Errorf("フレーム = %q, want %q", got, want)
		}
	})

	t.Run("複数の通知が投稿順に届くこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		ts := startHTTPServer(t, env)

		client := openSSE(t, ts.URL)
		waitAttached(t, env.broadcaster, true)

		const n = 5
		for i := range n {
			body := `{"id":"` + string(rune('a'+i)) + `","message":"m"}`
			resp, err := http.Post(ts.URL+"/notifications", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatalf("通知の投稿に失敗: %v", err)
			}
			resp.Body.Close()
		}
		for i := range n {
			want := "data: {\"id\":\"" + string(rune('a'+i)) + "\",\"message\":\"m\"}\n\n"
			if got := client.readFrame(t); got != want {
				t.Errorf("%d番目のフレーム = %q, want %q", i, got, want)
			}
		}
	})

	t.Run("購読者の切断後はスロットが空になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		ts := startHTTPServer(t, env)

		client := openSSE(t, ts.URL)
		waitAttached(t, env.broadcaster, true)
		client.body.Close()

		waitAttached(t, env.broadcaster, false)
		w := env.do(t, http.MethodPost, "/notifications", `{"id":"1","message":"after close"}`)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("キープアライブのコメントが送信されること", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Stream.KeepAlive = 20 * time.Millisecond
		env := setupTestServer(t, cfg)
		ts := startHTTPServer(t, env)

		client := openSSE(t, ts.URL)
		if got := client.readFrame(t); got != ": keepalive\n\n" {
			t.Errorf("フレーム = %q, want %q", got, ": keepalive\n\n")
		}
	})
}

// TestWebSocketStreaming はWebSocket購読者への配信を検証する。
func TestWebSocketStreaming(t *testing.T) {
	t.Parallel()

	t.Run("通知がテキストメッセージとして届くこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, testConfig())
		ts := startHTTPServer(t, env)

		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
		if err != nil {
			t.Fatalf("WebSocketへの接続に失敗: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		waitAttached(t, env.broadcaster, true)

		w := env.do(t, http.MethodPost, "/notifications", `{"id":"9","message":"ws"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("メッセージの受信に失敗: %v", err)
		}
		if mt != websocket.TextMessage || string(msg) != `{"id":"9","message":"ws"}` {
			t.Errorf("メッセージ = %d %s", mt, msg)
		}
	})

	t.Run("許可されていないOriginは拒否されること", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.CORSAllowedOrigins = []string{"https://allowed.example"}
		env := setupTestServer(t, cfg)
		ts := startHTTPServer(t, env)

		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		header := http.Header{"Origin": []string{"https://evil.example"}}
		_, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, header)
		if err == nil {
			t.Fatal("接続は拒否されるべき")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("レスポンス = %v, want 403", resp)
		}
		if env.broadcaster.Attached() {
			t.Error("拒否された接続が登録されている")
		}
	})
}

// TestRun はサーバーの起動とグレースフルシャットダウンを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)
	go func() { errCh <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run()が終了しない")
	}
}

// failingUsers は常にエラーを返すUserStore。
type failingUsers struct{ err error }

func (f failingUsers) Insert(context.Context, registry.User) error { return f.err }

func (f failingUsers) Delete(context.Context, int64) (bool, error) { return false, f.err }

func (f failingUsers) Get(context.Context, int64) (registry.User, error) {
	return registry.User{}, f.err
}

// failingAudit は常にエラーを返すAuditLog。
type failingAudit struct{ err error }

func (f failingAudit) RetrieveAll(context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", f.err)
	}
}

func (f failingAudit) Wait() {}
