package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignParse(t *testing.T) {
	tok, err := Sign("s3cret", "desktop", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := Parse("s3cret", tok)
	if err != nil || sub != "desktop" {
		t.Fatalf("parse = %q %v", sub, err)
	}
}

func TestParse_Rejects(t *testing.T) {
	tok, _ := Sign("s3cret", "desktop", time.Hour)
	if _, err := Parse("other", tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret accepted: %v", err)
	}
	expired, _ := Sign("s3cret", "desktop", -time.Minute)
	if _, err := Parse("s3cret", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if _, err := Parse("s3cret", "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage accepted: %v", err)
	}
	if _, err := Sign("", "x", time.Hour); err == nil {
		t.Fatalf("empty secret accepted")
	}
}
