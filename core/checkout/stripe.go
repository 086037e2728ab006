package checkout

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
}

type StripeGateway struct {
	api *stripecl.API
	cfg StripeConfig
}

func NewStripeGateway(api *stripecl.API, cfg StripeConfig) *StripeGateway {
	return &StripeGateway{api: api, cfg: cfg}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req Request) (Session, error) {
	params := g.params(req)
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: creating stripe session: %v", ErrGatewayUnavailable, err)
	}

	return Session{ID: s.ID, URL: s.URL, Provider: ProviderStripe}, nil
}

// params translates the snapshot so that the sum of the session line items
// equals the snapshot total to the cent.
func (g *StripeGateway) params(req Request) *stripe.CheckoutSessionParams {
	snap := req.Snapshot

	li := make([]*stripe.CheckoutSessionLineItemParams, 0, len(snap.Lines)+2)
	for _, l := range snap.Lines {
		pd := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(l.Title),
			Metadata: map[string]string{"product_id": l.ProductID},
		}
		if img, ok := secureImage(l.Image); ok {
			pd.Images = stripe.StringSlice([]string{img})
		}

		li = append(li, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(l.Qty)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(snap.Currency),
				UnitAmount:  stripe.Int64(l.UnitCents),
				ProductData: pd,
			},
		})
	}

	if snap.ShippingCents > 0 {
		li = append(li, syntheticItem("Shipping", snap.Currency, snap.ShippingCents))
	}
	if snap.TaxCents > 0 {
		li = append(li, syntheticItem("Tax", snap.Currency, snap.TaxCents))
	}

	md := Metadata(req)

	params := &stripe.CheckoutSessionParams{
		SuccessURL:               stripe.String(g.cfg.SuccessURL),
		CancelURL:                stripe.String(g.cfg.CancelURL),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		LineItems:                li,
		ClientReferenceID:        stripe.String(req.OrderID),
		BillingAddressCollection: stripe.String("required"),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: md,
		},
	}

	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	if len(g.cfg.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(g.cfg.AllowedCountries),
		}
	}

	for k, v := range md {
		params.AddMetadata(k, v)
	}

	return params
}

func syntheticItem(name, currency string, amount int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(amount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
	}
}
