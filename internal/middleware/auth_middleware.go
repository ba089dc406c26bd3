package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/res"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для ID пользователя (claim sub)
	ContextUserIDKey ContextKey = "userID"
	// ContextUserEmailKey ключ для email пользователя
	ContextUserEmailKey ContextKey = "userEmail"

	authHeaderPrefix = "Bearer "
	adminTokenHeader = "X-Admin-Token"
)

// UnauthorizedMessage - единый ответ на любую ошибку авторизации
const UnauthorizedMessage = "Unauthorized"

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims - claims сессии BaaS
type TokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// MembershipChecker проверяет, что пользователь состоит в компании
type MembershipChecker interface {
	IsMember(ctx context.Context, companyID, userID string) (bool, error)
}

// AuthMiddleware проверяет сессию и членство в компании
type AuthMiddleware struct {
	validator  TokenValidator
	cookieName string
	members    MembershipChecker
	log        *logger.Logger
}

func NewAuthMiddleware(validator TokenValidator, cookieName string, members MembershipChecker, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:  validator,
		cookieName: cookieName,
		members:    members,
		log:        log,
	}
}

// RequireSession принимает токен из Authorization: Bearer или из cookie сессии
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			m.handleAuthError(c, "missing session token")
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("token validation failed: %v", err))
			return
		}
		if claims.Subject == "" {
			m.handleAuthError(c, "user id (sub) missing in token")
			return
		}

		c.Set(string(ContextUserIDKey), claims.Subject)
		c.Set(string(ContextUserEmailKey), claims.Email)
		m.log.Debugw("User authenticated via HTTP", "userID", claims.Subject)
		c.Next()
	}
}

// RequireCompanyMember проверяет членство пользователя в компании из параметра пути.
// Ставится после RequireSession.
func (m *AuthMiddleware) RequireCompanyMember(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Authorize(c, c.Param(param)) {
			return
		}
		c.Next()
	}
}

// Authorize проверяет членство в companyID; при отказе пишет 401 и прерывает цепочку
func (m *AuthMiddleware) Authorize(c *gin.Context, companyID string) bool {
	userID := UserID(c)
	if userID == "" || companyID == "" {
		m.handleAuthError(c, "no user or company in request")
		return false
	}
	ok, err := m.members.IsMember(c.Request.Context(), companyID, userID)
	if err != nil {
		m.log.Errorw("Membership check failed", "companyID", companyID, "userID", userID, "error", err)
		m.handleAuthError(c, "membership check failed")
		return false
	}
	if !ok {
		m.handleAuthError(c, "user is not a member of the company")
		return false
	}
	return true
}

// RequireAdminToken защищает служебные маршруты статическим токеном
func RequireAdminToken(token string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(adminTokenHeader)
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), authHeaderPrefix)
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warnw("Admin authentication failed", "path", c.Request.URL.Path)
			unauthorized(c)
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, authHeaderPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, authHeaderPrefix))
	}
	if m.cookieName != "" {
		if v, err := c.Cookie(m.cookieName); err == nil {
			return v
		}
	}
	return ""
}

// handleAuthError логирует причину, но клиенту всегда отдает общий 401
func (m *AuthMiddleware) handleAuthError(c *gin.Context, reason string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "reason", reason)
	unauthorized(c)
}

func unauthorized(c *gin.Context) {
	res.Fail(c.Writer, http.StatusUnauthorized, UnauthorizedMessage, "")
	c.Abort()
}

// UserID возвращает id пользователя, установленный RequireSession
func UserID(c *gin.Context) string {
	return c.GetString(string(ContextUserIDKey))
}

// UserEmail возвращает email пользователя из токена
func UserEmail(c *gin.Context) string {
	return c.GetString(string(ContextUserEmailKey))
}

// HMACTokenValidator проверяет HS256-токены BaaS общим секретом
type HMACTokenValidator struct {
	Secret []byte
}

func (v *HMACTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
