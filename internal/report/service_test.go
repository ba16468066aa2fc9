package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository/memory"
)

type mockStatsRepo struct {
	err error
}

func (m *mockStatsRepo) CollectStats(ctx context.Context) (*model.Stats, error) {
	return nil, m.err
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()

	books := []model.Book{
		{ID: "b1", Title: "A", TotalCopies: 2, AvailableCopies: 1},
		{ID: "b2", Title: "B", TotalCopies: 1, AvailableCopies: 0},
		{ID: "b3", Title: "C", TotalCopies: 3, AvailableCopies: 0, Exhausted: true},
	}
	for _, b := range books {
		store.PutBook(b)
	}
	loans := []model.Loan{
		{ID: "l1", BookID: "b1", BorrowerID: "u1", LoanDate: now, DueDate: now},
		{ID: "l2", BookID: "b2", BorrowerID: "u1", LoanDate: now, DueDate: now},
		{ID: "l3", BookID: "b1", BorrowerID: "u1", LoanDate: now, DueDate: now, Returned: true},
	}
	for i := range loans {
		if err := store.Loans().Create(ctx, &loans[i]); err != nil {
			t.Fatalf("create loan: %v", err)
		}
	}
	if err := store.Users().Create(ctx, &model.User{ID: "u1", Username: "lector", Role: model.RoleMember, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := NewService(store.Stats()).Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	want := model.Stats{TotalBooks: 3, TotalLoans: 3, ActiveLoans: 2, AvailableBooks: 1, TotalUsers: 1}
	if *got != want {
		t.Errorf("Stats() = %+v, want %+v", *got, want)
	}
}

func TestStats_StoreFailure(t *testing.T) {
	_, err := NewService(&mockStatsRepo{err: errors.New("timeout")}).Stats(context.Background())
	if !model.IsKind(err, model.KindStorageUnavailable) {
		t.Errorf("err = %v, want storage unavailable", err)
	}
}
