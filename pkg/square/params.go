package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

const defaultCurrency = "EUR"

// PaymentCreateParams describes a card payment. AppFeeCents is the platform
// commission withheld from the seller.
type PaymentCreateParams struct {
	AmountCents    int64
	AppFeeCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) request(idempotencyKey string) *sq.CreatePaymentRequest {
	return &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       p.SourceID,
		LocationID:     optional(p.LocationID),
		CustomerID:     optional(p.CustomerID),
		Note:           optional(p.Note),
		ReferenceID:    optional(p.ReferenceID),
		AmountMoney:    money(p.AmountCents, p.Currency),
		AppFeeMoney:    money(p.AppFeeCents, p.Currency),
	}
}

// optional returns nil for blank values so the field is omitted on the wire.
func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func money(amount int64, currency string) *sq.Money {
	if amount <= 0 {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = defaultCurrency
	}
	cur := sq.Currency(code)
	return &sq.Money{Amount: &amount, Currency: &cur}
}
