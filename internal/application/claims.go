package application

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the subset of access-token claims the client relies on.
type AccessClaims struct {
	IsStaff bool `json:"is_staff"`
	UserID  any  `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("application: access token missing")

// DecodeAccessClaims reads the claims of an access token without verifying
// its signature. The backend remains the authority; the client only uses the
// claims to decide which panels to offer.
func DecodeAccessClaims(token string) (AccessClaims, error) {
	var claims AccessClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errMissingToken
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// isStaffToken reports the is_staff claim, treating anything undecodable as false.
func isStaffToken(token string) bool {
	claims, err := DecodeAccessClaims(token)
	if err != nil {
		return false
	}
	return claims.IsStaff
}
