package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wuwenbin0122/lumina/internal/auth"
)

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	registerResult, err := svc.Register(context.Background(), auth.Credentials{
		Email:    " Alice@Example.com ",
		Password: "s3cret!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if registerResult.Token == "" {
		t.Fatalf("expected token on registration")
	}

	if registerResult.User.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", registerResult.User.Email)
	}

	if registerResult.User.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped")
	}

	current, err := svc.VerifyToken(registerResult.Token)
	if err != nil {
		t.Fatalf("verify token failed: %v", err)
	}

	if current.ID != registerResult.User.ID {
		t.Fatalf("expected token subject %s, got %s", registerResult.User.ID, current.ID)
	}
	if current.Email != "alice@example.com" {
		t.Fatalf("expected email claim, got %q", current.Email)
	}

	if _, err := svc.Register(context.Background(), auth.Credentials{
		Email:    "alice@example.com",
		Password: "another!",
	}); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}

	loginResult, err := svc.Login(context.Background(), auth.Credentials{
		Email:    "ALICE@example.com",
		Password: "s3cret!",
	})
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}

	if loginResult.User.ID != registerResult.User.ID {
		t.Fatalf("expected login to resolve the registered user")
	}

	if _, err := svc.Login(context.Background(), auth.Credentials{
		Email:    "alice@example.com",
		Password: "wrong",
	}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials error, got %v", err)
	}

	if _, err := svc.Login(context.Background(), auth.Credentials{
		Email:    "nobody@example.com",
		Password: "whatever",
	}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestAuthServiceRejectsBadInput(t *testing.T) {
	if _, err := auth.NewService("  ", time.Hour, nil); !errors.Is(err, auth.ErrSecretRequired) {
		t.Fatalf("expected secret required error, got %v", err)
	}

	svc, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Register(context.Background(), auth.Credentials{Password: "s3cret!"}); !errors.Is(err, auth.ErrEmailRequired) {
		t.Fatalf("expected email required error, got %v", err)
	}
	if _, err := svc.Register(context.Background(), auth.Credentials{Email: "bob@example.com", Password: "123"}); !errors.Is(err, auth.ErrPasswordTooWeak) {
		t.Fatalf("expected weak password error, got %v", err)
	}
}

func TestVerifyTokenRejectsForeignSecret(t *testing.T) {
	issuer, _ := auth.NewService("secret-a", time.Hour, nil)
	verifier, _ := auth.NewService("secret-b", time.Hour, nil)

	result, err := issuer.Register(context.Background(), auth.Credentials{Email: "carol@example.com", Password: "s3cret!"})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if _, err := verifier.VerifyToken(result.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := verifier.VerifyToken("not-a-jwt"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token error for garbage, got %v", err)
	}
}
