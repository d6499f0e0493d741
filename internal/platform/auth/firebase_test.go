package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubFirebaseClient struct {
	plainCalls   int
	revokedCalls int
	deadline     bool
	err          error
}

func (s *stubFirebaseClient) VerifyIDToken(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	s.plainCalls++
	_, s.deadline = ctx.Deadline()
	return &firebaseauth.Token{UID: "cliente-1"}, s.err
}

func (s *stubFirebaseClient) VerifyIDTokenAndCheckRevoked(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	s.revokedCalls++
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &firebaseauth.Token{UID: "cliente-1"}, nil
}

func TestFirebaseVerifier_ChoosesRevocationCheck(t *testing.T) {
	plain := &stubFirebaseClient{}
	if _, err := newFirebaseVerifier(plain, false).VerifyIDToken(context.Background(), "tok"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if plain.plainCalls != 1 || plain.revokedCalls != 0 || !plain.deadline {
		t.Fatalf("expected bounded plain verification, got %+v", plain)
	}

	strict := &stubFirebaseClient{}
	if _, err := newFirebaseVerifier(strict, true, WithFirebaseTimeout(time.Second)).VerifyIDToken(context.Background(), "tok"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if strict.revokedCalls != 1 || strict.plainCalls != 0 {
		t.Fatalf("expected revocation-aware verification, got %+v", strict)
	}
}

func TestFirebaseVerifier_PassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("backend unavailable")
	_, err := newFirebaseVerifier(&stubFirebaseClient{err: boom}, true).VerifyIDToken(context.Background(), "tok")
	if !errors.Is(err, boom) || errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected raw backend error, got %v", err)
	}
}

func TestFirebaseVerifier_Uninitialised(t *testing.T) {
	var v *FirebaseVerifier
	if _, err := v.VerifyIDToken(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error from nil verifier")
	}
}
