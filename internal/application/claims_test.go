package application

import (
	"testing"
	"time"

	"github.com/example/classroom-booking/internal/testfixtures"
)

func TestDecodeAccessClaims(t *testing.T) {
	t.Parallel()

	token := testfixtures.AccessTokenExpiring("staff@example.edu", true, testfixtures.ReferenceTime().Add(-time.Hour))
	claims, err := DecodeAccessClaims(token)
	if err != nil {
		t.Fatalf("DecodeAccessClaims failed: %v", err)
	}
	if !claims.IsStaff || claims.Subject != "staff@example.edu" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.Equal(testfixtures.ReferenceTime().Add(-time.Hour)) {
		t.Fatalf("expected expiry decoded even for an expired token, got %v", claims.ExpiresAt)
	}

	if _, err := DecodeAccessClaims(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := DecodeAccessClaims("garbage"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestIsStaffToken(t *testing.T) {
	t.Parallel()

	if !isStaffToken(testfixtures.AccessToken("a", true)) {
		t.Fatalf("expected staff token")
	}
	if isStaffToken(testfixtures.AccessToken("b", false)) {
		t.Fatalf("expected member token")
	}
	if isStaffToken("x.y.z") {
		t.Fatalf("undecodable tokens must not grant admin")
	}
}
