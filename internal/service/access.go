package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/internal/repository"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// ScopeMember scope токена платного участника
const ScopeMember = "member"

// AccessService отвечает на вопрос "есть ли у пользователя доступ"
// и выдает токены доступа к платной части приложения.
type AccessService struct {
	subs      repository.SubscriptionRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	admins    map[int64]struct{}
	log       *logger.Logger
}

// NewAccessService создает новый сервис доступа
func NewAccessService(
	subs repository.SubscriptionRepository,
	jwtSecret string,
	tokenTTL time.Duration,
	adminIDs []int64,
	log *logger.Logger,
) *AccessService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &AccessService{
		subs:      subs,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		admins:    admins,
		log:       log,
	}
}

// IsAdmin проверяет, входит ли пользователь в список администраторов
func (s *AccessService) IsAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

// HasAccess проверяет, открыт ли пользователю доступ.
// Администраторы получают доступ без подписки.
func (s *AccessService) HasAccess(ctx context.Context, userID int64) (bool, *domain.Subscription, error) {
	if s.IsAdmin(userID) {
		return true, nil, nil
	}

	sub, err := s.subs.ActiveSubscriptionFor(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("access: failed to look up subscription: %w", err)
	}

	return sub.HasAccess(time.Now()), sub, nil
}

// IssueToken выдает JWT пользователю с действующей подпиской.
// Без доступа токен не выдается.
func (s *AccessService) IssueToken(ctx context.Context, userID int64) (string, error) {
	ok, _, err := s.HasAccess(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrUnauthorized
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(userID, 10),
		"scope": ScopeMember,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.log.Errorw("Failed to sign access token", "error", err, "userID", userID)
		return "", fmt.Errorf("access: failed to sign token: %w", err)
	}

	return signed, nil
}

// ValidateToken проверяет JWT и возвращает ID пользователя
func (s *AccessService) ValidateToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, domain.ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, domain.ErrUnauthenticated
	}
	if scope, _ := claims["scope"].(string); scope != ScopeMember {
		return 0, domain.ErrUnauthorized
	}

	subject, _ := claims["sub"].(string)
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID == 0 {
		return 0, domain.ErrUnauthenticated
	}

	return userID, nil
}
