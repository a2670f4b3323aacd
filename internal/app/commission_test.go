package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
)

type commissionRepoStub struct {
	store.Repository

	accounts    map[uuid.UUID]*domain.Account
	distributed map[uuid.UUID]bool

	// failCreditFor makes the atomic pay call fail for one account, applying
	// nothing, the way the real store rolls the unit back.
	failCreditFor uuid.UUID

	transactions []domain.Transaction
	credits      map[uuid.UUID]decimal.Decimal
}

func newCommissionRepoStub() *commissionRepoStub {
	return &commissionRepoStub{
		accounts:    make(map[uuid.UUID]*domain.Account),
		distributed: make(map[uuid.UUID]bool),
		credits:     make(map[uuid.UUID]decimal.Decimal),
	}
}

func (s *commissionRepoStub) addAccount(username string, referrerID *uuid.UUID) *domain.Account {
	account := &domain.Account{
		ID:         uuid.New(),
		Username:   username,
		ReferrerID: referrerID,
		Balance:    decimal.Zero,
	}
	s.accounts[account.ID] = account
	return account
}

func (s *commissionRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *commissionRepoStub) MarkCommissionDistributed(ctx context.Context, accountID uuid.UUID) (bool, error) {
	if _, ok := s.accounts[accountID]; !ok {
		return false, store.ErrAccountNotFound
	}
	if s.distributed[accountID] {
		return false, nil
	}
	s.distributed[accountID] = true
	return true, nil
}

func (s *commissionRepoStub) CreateTransactionWithBalanceChange(ctx context.Context, tx *domain.Transaction) error {
	account, ok := s.accounts[tx.AccountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if s.failCreditFor != uuid.Nil && tx.AccountID == s.failCreditFor {
		return errors.New("connection reset")
	}
	s.transactions = append(s.transactions, *tx)
	s.credits[tx.AccountID] = s.credits[tx.AccountID].Add(tx.Amount)
	account.Balance = account.Balance.Add(tx.Amount)
	return nil
}

func TestDistribute_TwoLevelChainPaysTwoTiers(t *testing.T) {
	repo := newCommissionRepoStub()
	grandparent := repo.addAccount("grandparent", nil)
	parent := repo.addAccount("parent", &grandparent.ID)
	newcomer := repo.addAccount("newcomer", &parent.ID)

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(repo.transactions) != 2 {
		t.Fatalf("expected 2 commission transactions, got %d", len(repo.transactions))
	}

	if !repo.credits[parent.ID].Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected level 1 credit of 25.00, got %s", repo.credits[parent.ID])
	}
	if !repo.credits[grandparent.ID].Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected level 2 credit of 12.50, got %s", repo.credits[grandparent.ID])
	}

	first := repo.transactions[0]
	if first.Type != domain.TransactionTypeCommission || first.Status != domain.TransactionStatusCompleted {
		t.Fatalf("unexpected commission transaction shape: %+v", first)
	}
	wantRef := fmt.Sprintf("Commission from Level 1 referral: %s", newcomer.Username)
	if first.Reference != wantRef {
		t.Fatalf("expected reference %q, got %q", wantRef, first.Reference)
	}
}

func TestDistribute_DeepChainStopsAtSixLevelsAndPaysOutWholeFee(t *testing.T) {
	repo := newCommissionRepoStub()

	// Build a chain of eight ancestors; only six should ever be paid.
	var ancestors []*domain.Account
	var prev *uuid.UUID
	for i := 0; i < 8; i++ {
		account := repo.addAccount(fmt.Sprintf("ancestor%d", i), prev)
		ancestors = append(ancestors, account)
		prev = &account.ID
	}
	newcomer := repo.addAccount("newcomer", prev)

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(repo.transactions) != 6 {
		t.Fatalf("expected 6 commission transactions, got %d", len(repo.transactions))
	}

	total := decimal.Zero
	for _, credit := range repo.credits {
		total = total.Add(credit)
	}
	if !total.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected total commission of 50.00, got %s", total)
	}

	// The two most distant ancestors are beyond the sixth tier.
	for _, account := range ancestors[:2] {
		if credit, ok := repo.credits[account.ID]; ok {
			t.Fatalf("expected no credit for %s beyond level 6, got %s", account.Username, credit)
		}
	}
}

func TestDistribute_SecondDeliveryIsNoOp(t *testing.T) {
	repo := newCommissionRepoStub()
	parent := repo.addAccount("parent", nil)
	newcomer := repo.addAccount("newcomer", &parent.ID)

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected nil error on first delivery, got %v", err)
	}
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected nil error on redelivery, got %v", err)
	}

	if len(repo.transactions) != 1 {
		t.Fatalf("expected exactly 1 commission transaction after redelivery, got %d", len(repo.transactions))
	}
	if !repo.credits[parent.ID].Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected single credit of 25.00, got %s", repo.credits[parent.ID])
	}
}

func TestDistribute_BrokenChainPaysReachableTiersAndHalts(t *testing.T) {
	repo := newCommissionRepoStub()
	missing := uuid.New()
	parent := repo.addAccount("parent", &missing)
	newcomer := repo.addAccount("newcomer", &parent.ID)

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected broken chain to be swallowed, got %v", err)
	}

	if len(repo.transactions) != 1 {
		t.Fatalf("expected only the level 1 commission, got %d transactions", len(repo.transactions))
	}
	if !repo.credits[parent.ID].Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected level 1 credit of 25.00, got %s", repo.credits[parent.ID])
	}
}

func TestDistribute_CreditFailureLeavesNoOrphanedEntry(t *testing.T) {
	repo := newCommissionRepoStub()
	grandparent := repo.addAccount("grandparent", nil)
	parent := repo.addAccount("parent", &grandparent.ID)
	newcomer := repo.addAccount("newcomer", &parent.ID)
	repo.failCreditFor = grandparent.ID

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err == nil {
		t.Fatal("expected level 2 pay failure to surface")
	}

	// Entry and credit commit together: the failed tier wrote neither.
	if len(repo.transactions) != 1 {
		t.Fatalf("expected only the level 1 entry, got %d", len(repo.transactions))
	}
	if credit, ok := repo.credits[grandparent.ID]; ok {
		t.Fatalf("expected no credit for the failed tier, got %s", credit)
	}
	if !repo.credits[parent.ID].Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected level 1 credit of 25.00, got %s", repo.credits[parent.ID])
	}
}

func TestDistribute_NoReferrerPaysNothing(t *testing.T) {
	repo := newCommissionRepoStub()
	newcomer := repo.addAccount("organic", nil)

	distributor := NewCommissionDistributor(repo, 5000)
	if err := distributor.Distribute(context.Background(), newcomer.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(repo.transactions) != 0 {
		t.Fatalf("expected no commission transactions, got %d", len(repo.transactions))
	}
}
