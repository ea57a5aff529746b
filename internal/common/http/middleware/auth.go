package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/contextkey"
	"judger/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures bearer token validation for the status API.
type AuthConfig struct {
	Secret string   `yaml:"jwtSecret"`
	Issuer string   `yaml:"jwtIssuer"`
	Roles  []string `yaml:"roles"`
}

// Enabled reports whether tokens are checked at all.
func (c AuthConfig) Enabled() bool {
	return c.Secret != ""
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware enforces HS256 bearer tokens. With no secret configured every
// request passes through.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.Secret)
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		claims, err := parseToken(extractBearerToken(c.GetHeader("Authorization")), secret, cfg.Issuer)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(cfg.Roles) > 0 && !hasRole(claims.Role, cfg.Roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set(string(contextkey.UserID), claims.Subject)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func parseToken(raw string, secret []byte, issuer string) (*tokenClaims, error) {
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
