package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nao1215/pushrelay/pkg/event"
)

// defaultTimeout はリクエスト1件あたりの既定のタイムアウト。
const defaultTimeout = 30 * time.Second

// headerRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const headerRequestID = "X-Request-ID"

// StatusError はサーバーが2xx以外のステータスを返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// Client はリレーサーバーへのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はリレーサーバーのベースURL。
	baseURL string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout はリクエストのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は新しいクライアントを生成する。
// baseURLにはリレーサーバーのベースURL（例: "http://localhost:8080"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User はユーザー追加リクエストのボディ、およびユーザー取得のレスポンス。
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Health はヘルスチェックのレスポンス。
type Health struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Subscriber bool   `json:"subscriber"`
}

// Publish は通知を投稿する。
func (c *Client) Publish(ctx context.Context, n event.Notification) error {
	return c.PostJSON(ctx, "/notifications", n, nil)
}

// AddUser はユーザーを追加する。
func (c *Client) AddUser(ctx context.Context, u User) error {
	return c.PostJSON(ctx, "/adduser", u, nil)
}

// DeleteUser はユーザーを削除する。
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.DeleteJSON(ctx, "/deleteuser/"+url.PathEscape(strconv.FormatInt(id, 10)), nil)
}

// GetUser は登録済みユーザーを取得する。未登録の場合は404のStatusErrorを返す。
func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	if err := c.GetJSON(ctx, "/user/"+url.PathEscape(strconv.FormatInt(id, 10)), &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Logs は監査ログに記録されたすべてのペイロードを取得する。
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var logs []string
	if err := c.GetJSON(ctx, "/logs", &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Health はサーバーの稼働状態を取得する。
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.GetJSON(ctx, "/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// resultがnilでなければレスポンスボディをデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// DeleteJSON は指定パスにDELETEリクエストを送信する。
func (c *Client) DeleteJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		req.Header.Set(headerRequestID, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 設定したIDはX-Request-IDヘッダーとしてサーバーのアクセスログに記録される。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
