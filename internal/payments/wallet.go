package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/pmv-rental/internal/models"
)

var ErrInsufficientFunds = errors.New("insufficient wallet balance")

// Settler charges a rider for a finished journey.
type Settler interface {
	Settle(ctx context.Context, user *models.UserAccount, j models.JourneyRecord) error
}

// Wallet debits the fare from the rider's prepaid balance.
type Wallet struct{}

func (Wallet) Settle(_ context.Context, user *models.UserAccount, j models.JourneyRecord) error {
	if !user.Debit(j.Amount) {
		return fmt.Errorf("%w: %s has %d cents, fare is %d", ErrInsufficientFunds, user.UserID(), user.WalletBalance(), j.Amount)
	}
	return nil
}

// WalletFirst pays from the wallet and falls back to the card processor
// when the balance does not cover the fare.
type WalletFirst struct {
	Card Settler
}

func (w WalletFirst) Settle(ctx context.Context, user *models.UserAccount, j models.JourneyRecord) error {
	err := Wallet{}.Settle(ctx, user, j)
	if err == nil || !errors.Is(err, ErrInsufficientFunds) || w.Card == nil {
		return err
	}
	return w.Card.Settle(ctx, user, j)
}
