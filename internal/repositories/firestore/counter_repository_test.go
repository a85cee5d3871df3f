package firestore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	pconfig "github.com/gestao-oficina/api/internal/platform/config"
	pfirestore "github.com/gestao-oficina/api/internal/platform/firestore"
	"github.com/gestao-oficina/api/internal/repositories"
	firestoreRepo "github.com/gestao-oficina/api/internal/repositories/firestore"
)

func newCounterRepository(t *testing.T) *firestoreRepo.CounterRepository {
	t.Helper()
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project"})
	repo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("counter repository: %v", err)
	}
	return repo
}

func TestCounterNextRejectsNegativeStep(t *testing.T) {
	repo := newCounterRepository(t)

	_, err := repo.Next(context.Background(), "workshop-1", "orders", -1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorInvalidInput {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if !strings.Contains(counterErr.Message, "negative") {
		t.Fatalf("message does not describe the rejected step: %q", counterErr.Message)
	}
}

func TestCounterNextRequiresCounterID(t *testing.T) {
	repo := newCounterRepository(t)

	_, err := repo.Next(context.Background(), "workshop-1", "  ", 1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorInvalidInput {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestNewCounterRepositoryRequiresProvider(t *testing.T) {
	if _, err := firestoreRepo.NewCounterRepository(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}
