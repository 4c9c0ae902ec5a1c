package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newAccount(username, email string) *Account {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return &Account{
		Username:    username,
		Name:        "Test User",
		Email:       email,
		Department:  "IT",
		Role:        "Engineer",
		Groups:      []string{"it_engineers"},
		Permissions: []string{"admin_console"},
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCreateAndLookup(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.Create(ctx, newAccount("jdoe", "jane.doe@company.com")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byUser, err := s.GetByUsername(ctx, "JDoe")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if byUser.Email != "jane.doe@company.com" {
		t.Fatalf("unexpected email: %s", byUser.Email)
	}

	byEmail, err := s.GetByEmail(ctx, "Jane.Doe@Company.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if byEmail.Username != "jdoe" {
		t.Fatalf("unexpected username: %s", byEmail.Username)
	}
}

func TestCreateConflicts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.Create(ctx, newAccount("jdoe", "jane.doe@company.com")); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newAccount("JDOE", "other@company.com")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	if err := s.Create(ctx, newAccount("other", "JANE.DOE@company.com")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestCreateRejectsInvalidStatus(t *testing.T) {
	s := NewInMemory()
	acc := newAccount("jdoe", "jane.doe@company.com")
	acc.Status = "suspended"
	if err := s.Create(context.Background(), acc); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateKeepsEmailUnique(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_ = s.Create(ctx, newAccount("jdoe", "jane.doe@company.com"))
	_ = s.Create(ctx, newAccount("bsmith", "bob.smith@company.com"))

	acc, _ := s.GetByUsername(ctx, "bsmith")
	acc.Email = "jane.doe@company.com"
	if err := s.Update(ctx, acc); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}

	acc.Email = "robert.smith@company.com"
	if err := s.Update(ctx, acc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.GetByEmail(ctx, "bob.smith@company.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old email still resolvable: %v", err)
	}
	if got, err := s.GetByEmail(ctx, "robert.smith@company.com"); err != nil || got.Username != "bsmith" {
		t.Fatalf("new email lookup failed: %v %v", got, err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_ = s.Create(ctx, newAccount("jdoe", "jane.doe@company.com"))

	acc, _ := s.GetByUsername(ctx, "jdoe")
	acc.Groups[0] = "mutated"
	again, _ := s.GetByUsername(ctx, "jdoe")
	if again.Groups[0] != "it_engineers" {
		t.Fatalf("store aliased by caller mutation: %v", again.Groups)
	}
}

func TestListSortedAndDelete(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_ = s.Create(ctx, newAccount("zford", "z@company.com"))
	_ = s.Create(ctx, newAccount("asmith", "a@company.com"))

	accs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accs) != 2 || accs[0].Username != "asmith" {
		t.Fatalf("unexpected listing: %v", accs)
	}

	if err := s.Delete(ctx, "ZFORD"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetByEmail(ctx, "z@company.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted account still resolvable by email")
	}
	if err := s.Delete(ctx, "zford"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestConcurrentCreatesSingleWinner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, newAccount("jdoe", "jane.doe@company.com"))
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one winner, got %d", created)
	}
}
