package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	healthH *HealthHandler,
	sessionAuth gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", healthH.Health)

	auth := r.Group("/auth")
	auth.POST("/signup", authH.Signup)
	auth.POST("/request-otp", authH.RequestOTP)
	auth.POST("/verify-otp", authH.VerifyOTP)
	auth.POST("/verify", authH.VerifySignup)
	auth.POST("/login", authH.Login)
	auth.POST("/login/verify", authH.CompleteLogin)
	auth.POST("/refresh", authH.Refresh)
	auth.POST("/logout", authH.Logout)
	auth.POST("/forgot", authH.Forgot)
	auth.POST("/reset-password", authH.ResetPassword)
	auth.POST("/set-password", authH.SetPassword)
	auth.GET("/check-username", authH.CheckUsername)

	me := auth.Group("/me", sessionAuth)
	me.GET("", authH.Me)
	me.PATCH("", authH.UpdateProfile)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
