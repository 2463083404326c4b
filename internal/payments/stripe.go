package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/pmv-rental/internal/models"
)

// intentAPI is the subset of the Stripe PaymentIntent API used here.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type packageAPI struct{}

func (packageAPI) New(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(p)
}

func (packageAPI) Capture(id string, p *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Capture(id, p)
}

func (packageAPI) Cancel(id string, p *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, p)
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct {
	api      intentAPI
	currency string
}

// NewStripeClient initializes the stripe client with the given secret key.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyEUR)
	}
	return &StripeClient{api: packageAPI{}, currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, customerID, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := s.api.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.api.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.Cancel(paymentIntentID, params)
	return err
}

// Settle charges the journey fare: hold, then capture. A failed capture
// releases the hold.
func (s *StripeClient) Settle(ctx context.Context, user *models.UserAccount, j models.JourneyRecord) error {
	if j.Amount <= 0 {
		return nil
	}
	id, err := s.Hold(ctx, j.Amount, "", "journey-"+j.ServiceID)
	if err != nil {
		return fmt.Errorf("hold %d cents for %s: %w", j.Amount, user.UserID(), err)
	}
	if err := s.Capture(ctx, id); err != nil {
		if cerr := s.Cancel(ctx, id); cerr != nil {
			return fmt.Errorf("capture %s: %w (cancel: %v)", id, err, cerr)
		}
		return fmt.Errorf("capture %s: %w", id, err)
	}
	return nil
}
