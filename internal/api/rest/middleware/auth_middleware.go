package middleware

import (
	"net/http"
	"strings"

	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/Dhoini/Membership-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// UserIDKey ключ, под которым ID пользователя лежит в контексте Gin
const UserIDKey = "userID"

// AuthMiddleware проверяет Bearer-токен и кладет ID пользователя в контекст
func AuthMiddleware(access *service.AccessService, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing bearer token"}, http.StatusUnauthorized)
			c.Abort()
			return
		}

		userID, err := access.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Debugw("Token validation failed", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid token"}, http.StatusUnauthorized)
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID извлекает ID пользователя из контекста Gin
func UserID(c *gin.Context) int64 {
	id, _ := c.Get(UserIDKey)
	userID, _ := id.(int64)
	return userID
}
