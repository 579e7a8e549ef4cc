package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

// ErrInvalidInput covers malformed registration or child details.
var ErrInvalidInput = errors.New("invalid input")

// Service registers accounts and exchanges credentials for tokens.
type Service struct {
	accounts interfaces.AccountStore
	tokens   *TokenIssuer
	log      zerolog.Logger
	cost     int
	now      func() time.Time

	// compared against on unknown emails so both login failures cost the same
	dummyHash string
}

type ServiceOption func(*Service)

// WithBcryptCost lowers or raises the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.cost = cost }
}

func WithServiceLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log.With().Str("component", "auth").Logger() }
}

func NewService(accounts interfaces.AccountStore, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		accounts: accounts,
		tokens:   tokens,
		log:      zerolog.Nop(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	hash, err := hashPassword(uuid.NewString(), s.cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = hash
	return s, nil
}

type Credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChildInput struct {
	Credentials
	SpendingLimit decimal.Decimal `json:"spending_limit"`
}

type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   models.Account `json:"account"`
}

func (s *Service) RegisterParent(ctx context.Context, in Credentials) (models.Account, error) {
	account, err := s.newAccount(in, models.KindParent)
	if err != nil {
		return models.Account{}, err
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return models.Account{}, err
	}

	s.log.Info().Str("account_id", account.ID).Msg("parent registered")
	return account, nil
}

// CreateChild adds a child owned by the calling parent. New children start
// active with a zero balance.
func (s *Service) CreateChild(ctx context.Context, parent Principal, in ChildInput) (models.Account, error) {
	if parent.Role != models.KindParent {
		return models.Account{}, models.ErrForbidden
	}
	if !models.ValidLimit(in.SpendingLimit) {
		return models.Account{}, models.ErrInvalidAmount
	}

	account, err := s.newAccount(in.Credentials, models.KindChild)
	if err != nil {
		return models.Account{}, err
	}
	account.OwnerID = parent.AccountID
	account.SpendingLimit = in.SpendingLimit
	account.Active = true

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return models.Account{}, err
	}

	s.log.Info().Str("account_id", account.ID).Str("parent_id", parent.AccountID).Msg("child created")
	return account, nil
}

// Login returns a signed token for valid credentials. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, models.ErrNotFound):
		checkPassword(s.dummyHash, password)
		return Session{}, models.ErrUnauthorized
	case err != nil:
		return Session{}, err
	}

	if !checkPassword(account.PasswordHash, password) {
		return Session{}, models.ErrUnauthorized
	}

	principal := Principal{AccountID: account.ID, Role: account.Kind}
	if account.IsChild() {
		principal.ParentID = account.OwnerID
	}

	token, expires, err := s.tokens.Issue(principal)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, Account: account}, nil
}

// ProfileUpdate carries new profile fields. Empty fields keep their value.
type ProfileUpdate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateProfile changes an account's name and email. Balances are not
// profile data and only move through the engine.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, in ProfileUpdate) (models.Account, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}

	name, email := account.Name, account.Email
	if n := strings.TrimSpace(in.Name); n != "" {
		name = n
	}
	if in.Email != "" {
		email = normalizeEmail(in.Email)
		if !validEmail(email) {
			return models.Account{}, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
		}
	}

	updated, err := s.accounts.UpdateProfile(ctx, accountID, name, email)
	if err != nil {
		return models.Account{}, err
	}
	s.log.Info().Str("account_id", accountID).Msg("profile updated")
	return updated, nil
}

func (s *Service) newAccount(in Credentials, kind models.AccountKind) (models.Account, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	switch {
	case name == "":
		return models.Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !validEmail(email):
		return models.Account{}, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	case len(in.Password) < minPasswordLen:
		return models.Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hash, err := hashPassword(in.Password, s.cost)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	return models.Account{
		ID:           uuid.NewString(),
		Kind:         kind,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Balance:      decimal.Zero,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
