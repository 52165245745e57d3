package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/integration/telegram"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/internal/service"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/Dhoini/Membership-service/pkg/req"
	"github.com/Dhoini/Membership-service/pkg/res"
	"github.com/gin-gonic/gin"
)

// AuthRequest запрос на аутентификацию через Telegram Mini App
type AuthRequest struct {
	InitData string `json:"init_data" validate:"required"`
}

// AuthResponse результат аутентификации
type AuthResponse struct {
	Token     string `json:"token,omitempty"`
	HasAccess bool   `json:"has_access"`
	IsAdmin   bool   `json:"is_admin"`
}

// AuthHandler аутентифицирует пользователей Telegram Mini App
type AuthHandler struct {
	access   *service.AccessService
	users    repository.UserRepository
	botToken string
	log      *logger.Logger
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(access *service.AccessService, users repository.UserRepository, botToken string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		access:   access,
		users:    users,
		botToken: botToken,
		log:      log,
	}
}

// Authenticate проверяет initData и выдает токен, если у пользователя есть доступ
func (h *AuthHandler) Authenticate(c *gin.Context) {
	var w http.ResponseWriter = c.Writer
	body, err := req.HandleBody[AuthRequest](&w, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	user, err := telegram.VerifyInitData(body.InitData, h.botToken)
	if err != nil {
		h.log.Warnw("Rejected invalid initData", "error", err, "ip", c.ClientIP())
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid init data"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	ctx := c.Request.Context()
	if err := h.users.Upsert(ctx, user); err != nil {
		h.log.Errorw("Failed to save authenticated user", "error", err, "userID", user.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	hasAccess, _, err := h.access.HasAccess(ctx, user.ID)
	if err != nil {
		h.log.Errorw("Failed to check user access", "error", err, "userID", user.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	resp := AuthResponse{
		HasAccess: hasAccess,
		IsAdmin:   h.access.IsAdmin(user.ID),
	}

	if hasAccess {
		token, err := h.access.IssueToken(ctx, user.ID)
		if err != nil && !errors.Is(err, domain.ErrUnauthorized) {
			h.log.Errorw("Failed to issue access token", "error", err, "userID", user.ID)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
			c.Abort()
			return
		}
		resp.Token = token
	}

	res.JsonResponse(c.Writer, resp, http.StatusOK)
}
