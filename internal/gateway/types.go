package gateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ID string

const (
	Paystack    ID = "paystack"
	Flutterwave ID = "flutterwave"
	Providus    ID = "providus"
	Stripe      ID = "stripe"
	Monnify     ID = "monnify"
	Squad       ID = "squad"
)

// ParseID normalises a gateway identifier. It does not check the registry.
func ParseID(s string) ID {
	return ID(strings.ToLower(strings.TrimSpace(s)))
}

func (id ID) String() string {
	return string(id)
}

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodUSSD         PaymentMethod = "ussd"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodQRCode       PaymentMethod = "qr_code"
)

// ParsePaymentMethod accepts the empty string as "no preference".
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if m == "" || m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method: %q", s)
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodCard, MethodUSSD, MethodMobileMoney, MethodQRCode:
		return true
	}
	return false
}

type Features struct {
	BankTransfer bool `json:"bankTransfer"`
	Card         bool `json:"card"`
	USSD         bool `json:"ussd"`
	MobileMoney  bool `json:"mobileMoney"`
	QRCode       bool `json:"qrCode"`
}

// Supports reports whether the gateway can take payments with m.
// An empty method is supported by every gateway.
func (f Features) Supports(m PaymentMethod) bool {
	switch m {
	case "":
		return true
	case MethodBankTransfer:
		return f.BankTransfer
	case MethodCard:
		return f.Card
	case MethodUSSD:
		return f.USSD
	case MethodMobileMoney:
		return f.MobileMoney
	case MethodQRCode:
		return f.QRCode
	}
	return false
}

type Limits struct {
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Currency string          `json:"currency"`
}

// Contains checks amount against the inclusive [Min, Max] range.
func (l Limits) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(l.Min) && amount.LessThanOrEqual(l.Max)
}

// Accepts is Contains for an amount denominated in currency. Limits without
// a currency are in DefaultCurrency.
func (l Limits) Accepts(currency string, amount decimal.Decimal) bool {
	own := l.Currency
	if own == "" {
		own = DefaultCurrency
	}
	return strings.EqualFold(own, currency) && l.Contains(amount)
}

type Config struct {
	ID          ID       `json:"id"`
	DisplayName string   `json:"displayName"`
	Enabled     bool     `json:"enabled"`
	Priority    int      `json:"priority"`
	Features    Features `json:"features"`
	Limits      Limits   `json:"limits"`
	Countries   []string `json:"countries,omitempty"`
}

// ServesCountry is true when the gateway has no country restriction or lists country.
func (c Config) ServesCountry(country string) bool {
	if country == "" || len(c.Countries) == 0 {
		return true
	}
	for _, code := range c.Countries {
		if strings.EqualFold(code, country) {
			return true
		}
	}
	return false
}

func (c Config) clone() Config {
	if c.Countries != nil {
		c.Countries = append([]string(nil), c.Countries...)
	}
	return c
}
