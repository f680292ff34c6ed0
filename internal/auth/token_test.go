package auth

import (
	"testing"
	"time"

	"github.com/shiva/labdock/internal/model"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueVerify_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	user := &model.User{ID: 42, Role: model.RoleStudent, Email: "alice@x"}

	tok, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if claims.Role != model.RoleStudent {
		t.Errorf("Role = %q, want student", claims.Role)
	}
	if claims.Email != "alice@x" {
		t.Errorf("Email = %q, want alice@x", claims.Email)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	other := NewTokenIssuer("ffffffffffffffffffffffffffffffff", time.Hour)

	tok, err := issuer.Issue(&model.User{ID: 1, Role: model.RoleAdmin, Email: "a@x"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Verify(tok); err == nil {
		t.Error("Verify with wrong secret succeeded, want error")
	}
}

func TestVerify_Expired(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, -time.Minute)
	tok, err := issuer.Issue(&model.User{ID: 1, Role: model.RoleStudent, Email: "a@x"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(tok); err == nil {
		t.Error("Verify of expired token succeeded, want error")
	}
}

func TestVerify_Garbage(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	if _, err := issuer.Verify("not.a.token"); err == nil {
		t.Error("Verify of garbage succeeded, want error")
	}
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	hash, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "pw123456") {
		t.Error("CheckPassword(correct) = false, want true")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("CheckPassword(wrong) = true, want false")
	}
}
