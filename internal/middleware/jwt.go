package middleware

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grading/internal/utils"
)

var (
	errMissingSubject = errors.New("token has no subject")
	errBadSubject     = errors.New("token subject is not a user id")
)

// JWTConfig configures bearer token verification for grading routes.
type JWTConfig struct {
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
	Leeway time.Duration
}

// JWTProtected verifies HMAC-signed bearer tokens and binds the caller's identity.
// Tokens without a resolvable user id are rejected since every grading action is attributed.
func JWTProtected(cfg JWTConfig) fiber.Handler {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(options...)
	key := []byte(cfg.Secret)

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "bearer token required")
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		identity, err := identityFromClaims(claims)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		bindIdentity(c, identity)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	var identity Identity

	found := false
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		found = true
		if id, err := parseUserID(value); err == nil {
			identity.UserID = id
			break
		}
	}
	switch {
	case identity.UserID != 0:
	case found:
		return Identity{}, errBadSubject
	default:
		return Identity{}, errMissingSubject
	}

	identity.Role = strongestRole(claims["role"], claims["roles"])
	return identity, nil
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v <= 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("subject %v out of range", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed == 0 {
			return 0, errBadSubject
		}
		return uint(parsed), nil
	default:
		return 0, errBadSubject
	}
}

// strongestRole picks the highest-ranked known role across the role and roles claims.
// Roles outside the grading set are ignored.
func strongestRole(values ...interface{}) Role {
	var best Role
	consider := func(text string) {
		if role, ok := ParseRole(text); ok && rank[role] > rank[best] {
			best = role
		}
	}

	for _, value := range values {
		switch v := value.(type) {
		case string:
			consider(v)
		case []interface{}:
			for _, item := range v {
				if text, ok := item.(string); ok {
					consider(text)
				}
			}
		}
	}
	return best
}
