package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueToken_RoundTrip(t *testing.T) {
	tokenStr, err := IssueToken(testSigningKey, "telecare", 42, RoleProvider, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return testSigningKey, nil
	}, jwt.WithIssuer("telecare"))
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("expected sub 42, got %s", claims.Subject)
	}
	if claims.Role() != RoleProvider {
		t.Errorf("expected role doctor, got %s", claims.Role())
	}
}

func TestIssueToken_Invalid(t *testing.T) {
	if _, err := IssueToken(nil, "", 1, RolePatient, time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := IssueToken(testSigningKey, "", 0, RolePatient, time.Hour); err == nil {
		t.Error("expected error for zero id")
	}
	if _, err := IssueToken(testSigningKey, "", 1, "admin", time.Hour); err == nil {
		t.Error("expected error for unknown role")
	}
}
