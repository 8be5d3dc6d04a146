package store

import (
	"context"
	"testing"

	"github.com/ilisteam/ilis/internal/db"
)

func TestGetJWTSecretPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a generated secret")
	}

	again, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	if again != secret {
		t.Error("expected the secret to be stable across calls")
	}
}
