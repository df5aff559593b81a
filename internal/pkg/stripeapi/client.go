package stripeapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/env"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"gorm.io/gorm"
)

// Client wraps the payment provider API for the outbound calls the app
// makes: creating checkout sessions, charging invoices and syncing customer
// records. Inbound webhooks are verified and handled elsewhere.
type Client struct {
	db  *gorm.DB
	log *logrus.Logger

	successURL string
	cancelURL  string
}

// NewClientFromEnv configures the provider SDK from the environment and
// returns a client. Returns an error when no API key is configured so
// callers can run webhook-only setups without outbound access.
func NewClientFromEnv(db *gorm.DB, log *logrus.Logger) (*Client, error) {
	apiKey := env.GetEnv("STRIPE_SECRET_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("stripeapi: STRIPE_SECRET_KEY is not set")
	}
	stripe.Key = apiKey

	appURL := env.GetEnv("APP_URL", "http://localhost:4000")
	return &Client{
		db:         db,
		log:        log,
		successURL: appURL + env.GetEnv("CHECKOUT_SUCCESS_PATH", "/billing/success"),
		cancelURL:  appURL + env.GetEnv("CHECKOUT_CANCEL_PATH", "/billing/cancel"),
	}, nil
}

// EnsureCustomer returns the user's provider customer id, creating the
// customer on first use and persisting the id.
func (c *Client) EnsureCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"user_id": fmt.Sprintf("%d", user.ID),
		},
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripeapi: create customer: %w", err)
	}

	user.StripeCustomerID = cust.ID
	if err := c.db.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", fmt.Errorf("stripeapi: persist customer id: %w", err)
	}
	return cust.ID, nil
}

// CheckoutInput describes a one-off payment to collect through a hosted
// checkout session. Metadata is what the webhook later routes on.
type CheckoutInput struct {
	Amount      int64
	Currency    string
	Description string
	ClientEmail string
	Metadata    map[string]string
}

// CreateCheckoutSession creates a hosted one-off payment session and returns
// its id and redirect URL.
func (c *Client) CreateCheckoutSession(in CheckoutInput) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					UnitAmount: stripe.Int64(in.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
			},
		},
	}
	if in.ClientEmail != "" {
		params.CustomerEmail = stripe.String(in.ClientEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("stripeapi: create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// ChargeInvoice creates a provider invoice for the customer, attaches a
// single line item, finalizes it and attempts payment against the default
// payment method. Returns the finalized provider invoice.
func (c *Client) ChargeInvoice(customerID string, amount int64, currency, description string, metadata map[string]string) (*stripe.Invoice, error) {
	invParams := &stripe.InvoiceParams{
		Customer:         stripe.String(customerID),
		AutoAdvance:      stripe.Bool(false),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically)),
	}
	for k, v := range metadata {
		invParams.AddMetadata(k, v)
	}
	inv, err := invoice.New(invParams)
	if err != nil {
		return nil, fmt.Errorf("stripeapi: create invoice: %w", err)
	}

	_, err = invoiceitem.New(&stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Invoice:     stripe.String(inv.ID),
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(strings.ToLower(currency)),
		Description: stripe.String(description),
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: add invoice item: %w", err)
	}

	inv, err = invoice.FinalizeInvoice(inv.ID, &stripe.InvoiceFinalizeInvoiceParams{})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: finalize invoice: %w", err)
	}

	inv, err = invoice.Pay(inv.ID, &stripe.InvoicePayParams{})
	if err != nil {
		// The invoice exists either way; the payment webhook settles the
		// final state.
		c.log.WithField("invoice_id", inv.ID).WithError(err).Warn("Invoice payment attempt failed")
		return inv, fmt.Errorf("stripeapi: pay invoice: %w", err)
	}
	return inv, nil
}

// ListCustomerInvoices returns up to limit invoices for the customer, newest
// first.
func (c *Client) ListCustomerInvoices(ctx context.Context, customerID string, limit int64) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var out []*stripe.Invoice
	it := invoice.List(params)
	for it.Next() {
		out = append(out, it.Invoice())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripeapi: list invoices: %w", err)
	}
	return out, nil
}
