package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/pushrelay/internal/broadcast"
	"github.com/nao1215/pushrelay/internal/config"
	"github.com/nao1215/pushrelay/internal/registry"
	"github.com/nao1215/pushrelay/pkg/event"
	"github.com/nao1215/pushrelay/pkg/middleware"
	"go.uber.org/zap"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 10 * time.Second

// UserStore はユーザーレジストリへの操作。
type UserStore interface {
	Insert(ctx context.Context, u registry.User) error
	Delete(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (registry.User, error)
}

// AuditLog は監査ログの読み出しと、実行中の書き込みの完了待ち。
type AuditLog interface {
	RetrieveAll(ctx context.Context) iter.Seq2[string, error]
	Wait()
}

// Server はリレーのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg config.Config
	// broadcaster は購読者への通知配信を担う。
	broadcaster *broadcast.Broadcaster
	// users はユーザーレジストリ。
	users UserStore
	// audit は監査ログ。
	audit AuditLog
	// upgrader はWebSocketへのプロトコル切り替えを行う。
	upgrader websocket.Upgrader
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しいリレーサーバーを生成する。
func NewServer(cfg config.Config, b *broadcast.Broadcaster, users UserStore, audit AuditLog, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	s := &Server{
		router:      router,
		cfg:         cfg,
		broadcaster: b,
		users:       users,
		audit:       audit,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
// 停止時は購読者を切断し、実行中の監査ログ書き込みの完了を待つ。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("サーバーを起動します", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("サーバーを停止します")
	// ストリーミング中のハンドラーを終了させるため先に購読者を切断する
	s.broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.audit.Wait()
	if err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Push notification relay is running")
	})
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"service":    "pushrelay",
			"subscriber": s.broadcaster.Attached(),
		})
	})

	// 購読者の接続
	s.router.GET("/sse", s.handleSSE())
	s.router.GET("/ws", s.handleWebSocket())

	// 通知の投稿
	s.router.POST("/notifications",
		middleware.RateLimit(s.cfg.PublishRateLimit, s.cfg.PublishRateBurst),
		s.handlePublish(),
	)

	// ユーザーレジストリ
	s.router.POST("/adduser", s.handleAddUser())
	s.router.DELETE("/deleteuser/:id", s.handleDeleteUser())
	s.router.GET("/user/:id", s.handleGetUser())

	// 監査ログ
	s.router.GET("/logs", s.handleLogs())
}

// handleSSE はリクエストをSSEの購読者として登録し、切断されるまでストリームを維持する。
// 新しい購読者が登録された場合もこの接続は終了する。
func (s *Server) handleSSE() gin.HandlerFunc {
	return func(c *gin.Context) {
		sink := broadcast.NewSSESink(c.Writer, s.cfg.Stream.WriteTimeout)
		if err := sink.Open(); err != nil {
			s.logger.Error("SSEストリームの開始に失敗", zap.Error(err))
			return
		}

		s.broadcaster.Register(sink)
		defer s.broadcaster.Unregister(sink)

		ticker := time.NewTicker(s.cfg.Stream.KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-sink.Done():
				return
			case <-ticker.C:
				if err := sink.KeepAlive(); err != nil {
					s.logger.Info("キープアライブの送信に失敗したため切断します", zap.Error(err))
					return
				}
			}
		}
	}
}

// handleWebSocket はWebSocket接続を購読者として登録する。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラーレスポンスを書き込み済み
			s.logger.Warn("WebSocketへの切り替えに失敗", zap.Error(err))
			return
		}

		sink := broadcast.NewWebSocketSink(conn, s.cfg.Stream.WriteTimeout)
		s.broadcaster.Register(sink)
		sink.Serve()
		s.broadcaster.Unregister(sink)
	}
}

// checkOrigin はWebSocketのOriginヘッダーをCORS設定で検証する。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.CORSAllowedOrigins, middleware.AllowAllOrigins) ||
		slices.Contains(s.cfg.CORSAllowedOrigins, origin)
}

// handlePublish は通知を購読者に配信するハンドラー。
// 購読者がいない場合も成功として扱う。
func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		var n event.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification", "details": err.Error()})
			return
		}

		delivered, err := s.broadcaster.Publish(n)
		if errors.Is(err, event.ErrInvalidNotification) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification", "details": err.Error()})
			return
		}
		if err != nil {
			s.logger.Error("通知の配信に失敗", zap.String("notification_id", n.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not publish notification"})
			return
		}

		s.logger.Info("通知を受け付けました",
			zap.String("notification_id", n.ID),
			zap.Bool("delivered", delivered),
		)
		c.String(http.StatusOK, "success")
	}
}

// addUserRequest はユーザー追加リクエストのJSON構造。
type addUserRequest struct {
	// ID はユーザーID。数値または数値文字列を受け付ける。
	ID json.Number `json:"id" binding:"required"`
	// Name は表示名。
	Name string `json:"name" binding:"required"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
}

// handleAddUser はユーザーをレジストリに登録するハンドラー。
// 既存IDの登録は上書きせずに失敗させる。
func (s *Server) handleAddUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user", "details": err.Error()})
			return
		}
		id, err := strconv.ParseInt(req.ID.String(), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user", "details": "id must be an integer"})
			return
		}

		err = s.users.Insert(c.Request.Context(), registry.User{ID: id, Name: req.Name, Email: req.Email})
		if errors.Is(err, registry.ErrAlreadyExists) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not add user: " + err.Error()})
			return
		}
		if err != nil {
			s.logger.Error("ユーザーの登録に失敗", zap.Int64("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create user", "details": err.Error()})
			return
		}

		s.logger.Info("ユーザーを登録しました", zap.Int64("user_id", id))
		c.JSON(http.StatusOK, gin.H{"message": "User added"})
	}
}

// handleDeleteUser はユーザーをレジストリから削除するハンドラー。
// 未登録のIDでも成功を返す。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}

		existed, err := s.users.Delete(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("ユーザーの削除に失敗", zap.Int64("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete user", "details": err.Error()})
			return
		}

		s.logger.Info("ユーザーを削除しました", zap.Int64("user_id", id), zap.Bool("existed", existed))
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}

// handleGetUser は登録済みユーザーを返すハンドラー。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}

		u, err := s.users.Get(c.Request.Context(), id)
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			s.logger.Error("ユーザーの取得に失敗", zap.Int64("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not get user", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// handleLogs は監査ログに記録されたすべてのペイロードを返すハンドラー。
func (s *Server) handleLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		logs := []string{}
		for payload, err := range s.audit.RetrieveAll(c.Request.Context()) {
			if err != nil {
				s.logger.Error("監査ログの取得に失敗", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not retrieve logs", "details": err.Error()})
				return
			}
			logs = append(logs, payload)
		}
		c.JSON(http.StatusOK, logs)
	}
}
