// Package auth issues and verifies the HS256 session tokens used by both the
// user-facing API and the admin console.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in session tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims extends the registered claims with the subject id and role.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
}

// GenerateToken signs a session token for the given subject.
func GenerateToken(userID int64, role string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
		Role:   role,
	})
	return token.SignedString(secretKey)
}

// ParseToken verifies the signature and expiry and returns the claims.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.Wrap(common.KindUnauthorized, common.CodeUnauthorized, "token expired", err)
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
