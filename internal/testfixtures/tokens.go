package testfixtures

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningKey signs every token minted by this package.
var SigningKey = []byte("testfixtures-signing-key")

type accessClaims struct {
	IsStaff   bool   `json:"is_staff"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// AccessToken mints an HS256 access token for subject valid for one hour
// after ReferenceTime.
func AccessToken(subject string, isStaff bool) string {
	return AccessTokenExpiring(subject, isStaff, referenceTime.Add(time.Hour))
}

// AccessTokenExpiring mints an access token with an explicit expiry.
func AccessTokenExpiring(subject string, isStaff bool, expiresAt time.Time) string {
	return AccessTokenWithID(subject, isStaff, expiresAt, "")
}

// AccessTokenWithID mints an access token carrying a token id, so two tokens
// for the same subject and expiry still differ.
func AccessTokenWithID(subject string, isStaff bool, expiresAt time.Time, id string) string {
	return mint(accessClaims{
		IsStaff:   isStaff,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
}

// RefreshToken mints a refresh token for subject.
func RefreshToken(subject string) string {
	return RefreshTokenWithID(subject, "")
}

// RefreshTokenWithID mints a refresh token carrying a token id.
func RefreshTokenWithID(subject, id string) string {
	return mint(accessClaims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(referenceTime),
			ExpiresAt: jwt.NewNumericDate(referenceTime.Add(24 * time.Hour)),
		},
	})
}

// TokenSubject returns the subject and staff flag of a token minted here,
// verifying its signature.
func TokenSubject(token string) (string, bool, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return "", false, err
	}
	return claims.Subject, claims.IsStaff, nil
}

func mint(claims accessClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(SigningKey)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: sign token: %v", err))
	}
	return signed
}
