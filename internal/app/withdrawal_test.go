package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
	"github.com/refpay/ledger-service/pkg/rabbitmq"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

// withdrawalRepoStub is a mutex-guarded in-memory repository so the
// concurrent debit test exercises the same serialization the row lock gives
// the real implementation.
type withdrawalRepoStub struct {
	store.Repository

	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	transactions map[uuid.UUID]*domain.Transaction
	withdrawals  map[uuid.UUID]*domain.WithdrawalRequest

	createWithdrawalErr error
}

func newWithdrawalRepoStub() *withdrawalRepoStub {
	return &withdrawalRepoStub{
		accounts:     make(map[uuid.UUID]*domain.Account),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		withdrawals:  make(map[uuid.UUID]*domain.WithdrawalRequest),
	}
}

func (s *withdrawalRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *withdrawalRepoStub) ApplyBalanceChange(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	newBalance := account.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, store.ErrInsufficientFunds
	}
	account.Balance = newBalance
	copied := *account
	return &copied, nil
}

func (s *withdrawalRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tx
	s.transactions[tx.ID] = &copied
	return nil
}

func (s *withdrawalRepoStub) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.Status = status
	return nil
}

func (s *withdrawalRepoStub) DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[transactionID]; !ok {
		return store.ErrTransactionNotFound
	}
	delete(s.transactions, transactionID)
	return nil
}

func (s *withdrawalRepoStub) CreateWithdrawalRequest(ctx context.Context, withdrawal *domain.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createWithdrawalErr != nil {
		return s.createWithdrawalErr
	}
	copied := *withdrawal
	s.withdrawals[withdrawal.ID] = &copied
	return nil
}

// payoutGatewayStub records Stripe calls and fails on demand.
type payoutGatewayStub struct {
	tokenErr  error
	payoutErr error

	payoutCalls []stripeclient.PayoutParams
}

func (g *payoutGatewayStub) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*stripeclient.PaymentIntent, error) {
	return &stripeclient.PaymentIntent{ID: "pi_test", Status: "requires_payment_method", Amount: amount, Currency: currency, ClientSecret: "pi_test_secret"}, nil
}

func (g *payoutGatewayStub) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripeclient.PaymentIntent, error) {
	return &stripeclient.PaymentIntent{ID: paymentIntentID, Status: "succeeded"}, nil
}

func (g *payoutGatewayStub) CreateBankAccountToken(ctx context.Context, params stripeclient.BankAccountParams) (*stripeclient.Token, error) {
	if g.tokenErr != nil {
		return nil, g.tokenErr
	}
	return &stripeclient.Token{ID: "btok_test"}, nil
}

func (g *payoutGatewayStub) CreatePayout(ctx context.Context, params stripeclient.PayoutParams) (*stripeclient.Payout, error) {
	g.payoutCalls = append(g.payoutCalls, params)
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return &stripeclient.Payout{ID: "po_test", Status: "pending", Amount: params.Amount, Currency: params.Currency}, nil
}

func mustHashPIN(t *testing.T, pin string) *string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash pin: %v", err)
	}
	s := string(hash)
	return &s
}

func eligibleAccount(t *testing.T, balance string) *domain.Account {
	t.Helper()
	return &domain.Account{
		ID:               uuid.New(),
		Username:         "withdrawer",
		Balance:          decimal.RequireFromString(balance),
		Status:           domain.AccountStatusActive,
		WithdrawalStatus: domain.WithdrawalStatusActive,
		KYCVerified:      true,
		PINHash:          mustHashPIN(t, "1234"),
	}
}

func newWithdrawalService(repo store.Repository, gateway PayoutGateway) *Service {
	return NewService(repo, gateway, &rabbitmq.EventProducerFallback{}, nil, 5000, 0)
}

func validWithdrawalRequest(amount string) domain.CreateWithdrawalRequest {
	return domain.CreateWithdrawalRequest{
		Amount:        decimal.RequireFromString(amount),
		PIN:           "1234",
		BankName:      "Test Bank",
		AccountNumber: "12345678",
		SortCode:      "108800",
		AccountName:   "W Ithdrawer",
	}
}

func TestCreateWithdrawal_PreconditionOrdering(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.Account)
		amount  string
		wantErr error
	}{
		{
			name:    "frozen account rejected first",
			mutate:  func(a *domain.Account) { a.Status = domain.AccountStatusFrozen; a.KYCVerified = false },
			amount:  "10.00",
			wantErr: ErrAccountFrozen,
		},
		{
			name:    "kyc before withdrawal gate",
			mutate:  func(a *domain.Account) { a.KYCVerified = false; a.WithdrawalStatus = domain.WithdrawalStatusPaused },
			amount:  "10.00",
			wantErr: ErrKYCRequired,
		},
		{
			name:    "withdrawal gate before balance",
			mutate:  func(a *domain.Account) { a.WithdrawalStatus = domain.WithdrawalStatusPaused; a.Balance = decimal.Zero },
			amount:  "10.00",
			wantErr: ErrWithdrawalsPaused,
		},
		{
			name:    "balance before pin",
			mutate:  func(a *domain.Account) { a.Balance = decimal.RequireFromString("5.00"); a.PINHash = nil },
			amount:  "10.00",
			wantErr: store.ErrInsufficientFunds,
		},
		{
			name:    "missing pin",
			mutate:  func(a *domain.Account) { a.PINHash = nil },
			amount:  "10.00",
			wantErr: ErrPINNotSet,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newWithdrawalRepoStub()
			account := eligibleAccount(t, "100.00")
			tc.mutate(account)
			repo.accounts[account.ID] = account

			gateway := &payoutGatewayStub{}
			service := newWithdrawalService(repo, gateway)

			_, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest(tc.amount))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(gateway.payoutCalls) != 0 {
				t.Fatal("expected no payout call for rejected withdrawal")
			}
		})
	}
}

func TestCreateWithdrawal_WrongPINRejected(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	service := newWithdrawalService(repo, &payoutGatewayStub{})

	req := validWithdrawalRequest("10.00")
	req.PIN = "9999"
	if _, err := service.CreateWithdrawal(context.Background(), account.ID, req); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
}

func TestCreateWithdrawal_InvalidAmounts(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account
	service := newWithdrawalService(repo, &payoutGatewayStub{})

	for _, amount := range []string{"0", "-5.00", "1.005"} {
		req := validWithdrawalRequest("10.00")
		req.Amount = decimal.RequireFromString(amount)
		if _, err := service.CreateWithdrawal(context.Background(), account.ID, req); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestCreateWithdrawal_SuccessReservesFundsAndConvertsToPence(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	gateway := &payoutGatewayStub{}
	service := newWithdrawalService(repo, gateway)

	withdrawal, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest("30.50"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if !repo.accounts[account.ID].Balance.Equal(decimal.RequireFromString("69.50")) {
		t.Fatalf("expected balance 69.50 after reservation, got %s", repo.accounts[account.ID].Balance)
	}

	if len(gateway.payoutCalls) != 1 {
		t.Fatalf("expected one payout call, got %d", len(gateway.payoutCalls))
	}
	if gateway.payoutCalls[0].Amount != 3050 {
		t.Fatalf("expected payout of 3050 pence, got %d", gateway.payoutCalls[0].Amount)
	}

	if withdrawal.Status != domain.WithdrawalRecordProcessing {
		t.Fatalf("expected processing withdrawal, got %s", withdrawal.Status)
	}
	if withdrawal.StripePayoutID == nil || *withdrawal.StripePayoutID != "po_test" {
		t.Fatalf("expected stored payout id po_test, got %v", withdrawal.StripePayoutID)
	}
	if withdrawal.AccountNumber != "****5678" {
		t.Fatalf("expected masked account number, got %s", withdrawal.AccountNumber)
	}

	tx, ok := repo.transactions[withdrawal.TransactionID]
	if !ok {
		t.Fatal("expected linked ledger transaction to exist")
	}
	if tx.Status != domain.TransactionStatusProcessing {
		t.Fatalf("expected processing ledger entry, got %s", tx.Status)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("-30.50")) {
		t.Fatalf("expected signed ledger amount -30.50, got %s", tx.Amount)
	}
}

func TestCreateWithdrawal_PayoutFailureLeavesNoTrace(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	gateway := &payoutGatewayStub{payoutErr: errors.New("stripe rejected the payout")}
	service := newWithdrawalService(repo, gateway)

	if _, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest("40.00")); err == nil {
		t.Fatal("expected payout failure to surface")
	}

	if !repo.accounts[account.ID].Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected balance restored to 100.00, got %s", repo.accounts[account.ID].Balance)
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("expected pending transaction removed, got %d transactions", len(repo.transactions))
	}
	if len(repo.withdrawals) != 0 {
		t.Fatalf("expected no withdrawal record, got %d", len(repo.withdrawals))
	}
}

func TestCreateWithdrawal_RecordFailureRollsBackReservation(t *testing.T) {
	repo := newWithdrawalRepoStub()
	repo.createWithdrawalErr = errors.New("connection reset")
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	gateway := &payoutGatewayStub{}
	service := newWithdrawalService(repo, gateway)

	if _, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest("40.00")); err == nil {
		t.Fatal("expected record persistence failure to surface")
	}

	if !repo.accounts[account.ID].Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected balance restored to 100.00, got %s", repo.accounts[account.ID].Balance)
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("expected pending transaction removed, got %d transactions", len(repo.transactions))
	}
	if len(repo.withdrawals) != 0 {
		t.Fatalf("expected no withdrawal record, got %d", len(repo.withdrawals))
	}
}

func TestCreateWithdrawal_TokenFailureTouchesNothing(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	gateway := &payoutGatewayStub{tokenErr: errors.New("invalid sort code")}
	service := newWithdrawalService(repo, gateway)

	if _, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest("40.00")); err == nil {
		t.Fatal("expected tokenization failure to surface")
	}

	if !repo.accounts[account.ID].Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected untouched balance, got %s", repo.accounts[account.ID].Balance)
	}
	if len(repo.transactions) != 0 || len(repo.withdrawals) != 0 {
		t.Fatal("expected no ledger activity before funds reservation")
	}
}

func TestCreateWithdrawal_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newWithdrawalRepoStub()
	account := eligibleAccount(t, "100.00")
	repo.accounts[account.ID] = account

	gateway := &payoutGatewayStub{}
	service := newWithdrawalService(repo, gateway)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CreateWithdrawal(context.Background(), account.ID, validWithdrawalRequest("80.00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, insufficient int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one insufficient-funds rejection, got %d/%d", successes, insufficient)
	}
	if !repo.accounts[account.ID].Balance.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected final balance 20.00, got %s", repo.accounts[account.ID].Balance)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected single surviving ledger entry, got %d", len(repo.transactions))
	}
}
