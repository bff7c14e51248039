package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit はトークンバケット方式でリクエスト数を制限するGinミドルウェアを返す。
// rpsは1秒あたりの平均許容数、burstは瞬間的な最大許容数。
// rpsが0以下の場合は制限を行わない。
//
// リレーは単一プロセスで全プロデューサーからの投稿を受けるため、
// クライアント単位ではなくプロセス全体で1つのバケットを共有する。
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
