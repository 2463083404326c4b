package models

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

const minPasswordLen = 6

// UserAccount is a rider. Only the wallet balance changes after creation.
type UserAccount struct {
	userID       string
	username     string
	email        string
	passwordHash []byte

	mu     sync.RWMutex
	wallet int64 // cents
}

// NewUserAccount validates the fields and stores a bcrypt hash of password.
func NewUserAccount(userID, username, email, password string, walletCents int64) (*UserAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", ErrValidation)
	}
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username must not be empty", ErrValidation)
	}
	if !emailRe.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrValidation, minPasswordLen)
	}
	if walletCents < 0 {
		return nil, fmt.Errorf("%w: wallet balance must not be negative", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &UserAccount{
		userID:       userID,
		username:     username,
		email:        email,
		passwordHash: hash,
		wallet:       walletCents,
	}, nil
}

func (u *UserAccount) UserID() string   { return u.userID }
func (u *UserAccount) Username() string { return u.username }
func (u *UserAccount) Email() string    { return u.email }

func (u *UserAccount) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) == nil
}

func (u *UserAccount) WalletBalance() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.wallet
}

func (u *UserAccount) SetWalletBalance(cents int64) error {
	if cents < 0 {
		return fmt.Errorf("%w: wallet balance must not be negative", ErrValidation)
	}
	u.mu.Lock()
	u.wallet = cents
	u.mu.Unlock()
	return nil
}

// Debit subtracts cents from the wallet if the balance covers it and
// reports whether it did.
func (u *UserAccount) Debit(cents int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if cents < 0 || cents > u.wallet {
		return false
	}
	u.wallet -= cents
	return true
}
