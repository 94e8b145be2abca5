// Package identity resolves bearer tokens issued by the external identity provider into a
// user id and an ordered role set.
package identity

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
	authmw "changeflow/pkg/platform/middleware/auth"
)

// Identity is the resolved caller. Roles are in provider order and always end with requestor.
type Identity struct {
	UserID      int64
	PrimaryRole models.Role
	Roles       []models.Role
}

// Claims are the access token claims issued by the identity provider.
// The subject is the numeric user id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC signed tokens and maps their claims to an Identity.
type JWTResolver struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTResolver(signingKey, issuer, audience string) *JWTResolver {
	return &JWTResolver{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Resolve validates tokenString and returns the caller's identity.
func (r *JWTResolver) Resolve(tokenString string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.signingKey, nil
	},
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}

	roles := models.ParseRoles(claims.Roles)
	return &Identity{
		UserID:      userID,
		PrimaryRole: roles[0],
		Roles:       roles,
	}, nil
}

// ValidateToken adapts Resolve to the auth middleware.
func (r *JWTResolver) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	id, err := r.Resolve(tokenString)
	if err != nil {
		return nil, err
	}
	roles := make([]string, len(id.Roles))
	for i, role := range id.Roles {
		roles[i] = string(role)
	}
	return &authmw.JWTClaims{UserID: id.UserID, Roles: roles}, nil
}

// IssueToken signs a token for userID. Used by tests and local tooling; production tokens
// come from the identity provider.
func (r *JWTResolver) IssueToken(userID int64, roles []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    r.issuer,
			Audience:  []string{r.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(r.signingKey)
}
