package api

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Auth modes.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Locals set by the middleware chain.
const (
	localRequestID = "request_id"
	localUserID    = "user_id"
	localRole      = "role"
)

// Roles a caller can hold.
const (
	RoleAdmin   = "admin"
	RoleService = "service"
	RoleUser    = "authenticated"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "none", "api-key" or "jwt"
	APIKey    string // shared key for api-key mode
	JWTSecret string // HS256 secret for jwt mode
}

// userClaims are the claims of a Supabase access token.
type userClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header. In jwt mode the token subject becomes the caller's
// user id.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	logger = logger.With().Str("component", "auth").Logger()
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.JWTSecret), nil }

	return func(c *fiber.Ctx) error {
		if cfg.Mode == AuthNone || cfg.Mode == "" {
			c.Locals(localRole, RoleAdmin)
			return c.Next()
		}

		path := c.Path()
		if isProbe(path) || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return errorResponse(c, fiber.StatusUnauthorized, "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return errorResponse(c, fiber.StatusUnauthorized, "Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case AuthAPIKey:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				c.Locals(localRole, RoleService)
				return c.Next()
			}
			logger.Warn().Str("path", path).Str("method", c.Method()).Msg("unauthorized request: invalid API key")
			return errorResponse(c, fiber.StatusUnauthorized, "Invalid API key")

		case AuthJWT:
			var claims userClaims
			if _, err := parser.ParseWithClaims(token, &claims, keyFunc); err != nil {
				logger.Warn().Err(err).Str("path", path).Str("method", c.Method()).Msg("unauthorized request: invalid token")
				return errorResponse(c, fiber.StatusUnauthorized, "Invalid token")
			}
			if claims.Subject == "" {
				return errorResponse(c, fiber.StatusUnauthorized, "Token has no subject")
			}
			role := claims.Role
			if role == "" {
				role = RoleUser
			}
			c.Locals(localUserID, claims.Subject)
			c.Locals(localRole, role)
			return c.Next()
		}

		logger.Error().Str("mode", cfg.Mode).Msg("unknown auth mode, rejecting request")
		return errorResponse(c, fiber.StatusUnauthorized, "Unauthorized")
	}
}

func localString(c *fiber.Ctx, key string) string {
	s, _ := c.Locals(key).(string)
	return s
}
