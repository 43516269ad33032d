package admin

import (
	"net/http"
	"strings"

	"github.com/betzim/mediameter/internal/config"
	handlers "github.com/betzim/mediameter/internal/http/api/admin/handlers"
	"github.com/betzim/mediameter/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RegisterAdminRoutes registers the health probe and the JWT-guarded payment routes.
func RegisterAdminRoutes(r *gin.Engine, ledger handlers.PaymentLedger, pinger handlers.Pinger, jwtCfg config.JWTConfig) {
	if r == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(pinger)
	r.GET("/healthz", healthHandler.Healthz)

	if ledger == nil {
		return
	}
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		log.Warn("admin: jwt secret is empty, payment routes are disabled")
		return
	}

	authed := r.Group("/api/payments")
	authed.Use(adminAuthMiddleware(jwtCfg))

	paymentHandler := handlers.NewPaymentHandler(ledger)
	authed.POST("/register", paymentHandler.Register)
	authed.POST("/add-minutes", paymentHandler.AddMinutes)
	authed.POST("/add-units", paymentHandler.AddUnits)
	authed.POST("/extend-subscription", paymentHandler.ExtendSubscription)
	authed.GET("/time-usage/:phoneNumber", paymentHandler.TimeUsage)
}

// adminAuthMiddleware validates admin JWTs.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminSubject", claims.Subject)
		c.Next()
	}
}
