package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

const ProviderPaypal = "paypal"

type PaypalConfig struct {
	ReturnURL string
	CancelURL string
}

type PaypalGateway struct {
	client *paypal.Client
	cfg    PaypalConfig
}

func NewPaypalGateway(client *paypal.Client, cfg PaypalConfig) *PaypalGateway {
	return &PaypalGateway{client: client, cfg: cfg}
}

func (g *PaypalGateway) CreateSession(ctx context.Context, req Request) (Session, error) {
	ord, err := g.client.CreateOrder(ctx, "CAPTURE", g.units(req), nil, &paypal.ApplicationContext{
		ReturnURL: g.cfg.ReturnURL,
		CancelURL: g.cfg.CancelURL,
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: creating paypal order: %v", ErrGatewayUnavailable, err)
	}

	for _, l := range ord.Links {
		if l.Rel == "approve" {
			return Session{ID: ord.ID, URL: l.Href, Provider: ProviderPaypal}, nil
		}
	}
	return Session{}, fmt.Errorf("%w: paypal order[%s] has no approve link", ErrGatewayUnavailable, ord.ID)
}

func (g *PaypalGateway) units(req Request) []paypal.PurchaseUnitRequest {
	snap := req.Snapshot
	cur := strings.ToUpper(snap.Currency)

	items := make([]paypal.Item, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		items = append(items, paypal.Item{
			Quantity:   strconv.Itoa(l.Qty),
			Name:       l.Title,
			SKU:        l.ProductID,
			UnitAmount: money(cur, l.UnitCents),
		})
	}

	return []paypal.PurchaseUnitRequest{{
		ReferenceID: req.OrderID,
		CustomID:    req.OrderID,
		Items:       items,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: cur,
			Value:    decimalCents(snap.TotalCents),
			Breakdown: &paypal.PurchaseUnitAmountBreakdown{
				ItemTotal: money(cur, snap.SubtotalCents),
				Shipping:  money(cur, snap.ShippingCents),
				TaxTotal:  money(cur, snap.TaxCents),
			},
		},
	}}
}

func money(currency string, cents int64) *paypal.Money {
	return &paypal.Money{Currency: currency, Value: decimalCents(cents)}
}

// decimalCents renders minor units the way PayPal expects them, e.g. 3740 -> "37.40".
func decimalCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
