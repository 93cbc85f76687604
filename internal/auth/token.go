package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ternarybob/exerceo/internal/models"
)

// SignToken issues an HMAC-SHA256 bearer token for the given principal.
// Intended for development tooling and tests; production deployments point
// the gate at tokens minted by an external identity provider sharing the
// same secret.
func (g *Gate) SignToken(principalID string, roles []string) (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("cannot sign token: no jwt_secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":   uuid.New().String(),
		"sub":   principalID,
		"roles": roles,
		"iss":   "exerceo",
		"iat":   now.Unix(),
		"exp":   now.Add(g.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// principalFromToken validates a bearer token and maps its claims onto a
// principal. Every validation failure collapses to ErrUnauthenticated; the
// underlying parse error is logged, not surfaced.
func (g *Gate) principalFromToken(tokenString string) (*Principal, error) {
	claims, err := validateJWT(tokenString, g.secret)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Bearer token rejected")
		return nil, fmt.Errorf("%w: invalid or expired token", models.ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: token missing subject", models.ErrUnauthenticated)
	}

	return &Principal{ID: sub, Roles: rolesFromClaims(claims)}, nil
}

// validateJWT parses and validates a JWT token string using the given secret.
func validateJWT(tokenString string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// rolesFromClaims reads the role set from either a "roles" array claim or a
// singular "role" claim, whichever the identity provider issues.
func rolesFromClaims(claims jwt.MapClaims) []string {
	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, entry := range raw {
			if role, ok := entry.(string); ok && role != "" {
				roles = append(roles, role)
			}
		}
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		roles = append(roles, role)
	}
	return roles
}
