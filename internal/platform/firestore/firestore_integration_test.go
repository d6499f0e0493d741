//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/lumen-studio/booking/internal/platform/config"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
)

type bookingDoc struct {
	Client      string `firestore:"client"`
	DepositPaid bool   `firestore:"depositPaid"`
	Total       int64  `firestore:"total"`
}

type repoClassifier interface {
	IsNotFound() bool
	IsConflict() bool
}

func TestProviderAndRepositoryAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "lumen-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx, "contracts_it"); err != nil {
		t.Fatalf("ping: %v", err)
	}

	repo := pfirestore.NewBaseRepository[bookingDoc](provider, "contracts_it")
	id := "ctr-" + time.Now().Format("150405.000000")

	if err := repo.Create(ctx, id, bookingDoc{Client: "Ana", Total: 45000}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var cls repoClassifier
	err := repo.Create(ctx, id, bookingDoc{Client: "dup"})
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := repo.Update(ctx, id, []firestore.Update{{Path: "depositPaid", Value: true}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !doc.Data.DepositPaid || doc.Data.Total != 45000 {
		t.Fatalf("unexpected document %#v", doc.Data)
	}

	err = repo.Update(ctx, "missing-"+id, []firestore.Update{{Path: "total", Value: 1}})
	if !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found when updating a missing document, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		decoded, err := pfirestore.Decode[bookingDoc](snap)
		if err != nil {
			return err
		}
		decoded.Data.Total += 500
		return tx.Set(ref, decoded.Data)
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("client", "==", "Ana")
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	found := false
	for _, d := range docs {
		if d.ID == id && d.Data.Total == 45500 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected transaction result to be visible in query")
	}
}
