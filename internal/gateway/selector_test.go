package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBestGateway(t *testing.T) {
	withCountries := fixtureConfigs()
	withCountries[0].Countries = []string{"GH"}
	withCountries[1].Countries = []string{"NG", "KE"}

	tests := []struct {
		name    string
		configs []Config
		amount  int64
		method  PaymentMethod
		country string
		want    ID
	}{
		{name: "highest priority within limits", amount: 200_000, want: Paystack},
		{name: "below every minimum falls back to top priority", amount: 50, want: Paystack},
		{name: "inclusive lower bound", amount: 100, want: Paystack},
		{name: "inclusive upper bound", amount: 5_000_000, want: Paystack},
		{name: "above paystack max", amount: 5_000_001, want: Flutterwave},
		{name: "above flutterwave max", amount: 20_000_000, want: Providus},
		{name: "capability filter", amount: 1000, method: MethodQRCode, want: Flutterwave},
		{name: "capability and amount", amount: 20_000_000, method: MethodBankTransfer, want: Providus},
		{name: "no capable gateway degrades to top priority", amount: 1000, method: MethodUSSD, configs: fixtureConfigs()[1:], want: Flutterwave},
		{name: "country restriction", configs: withCountries, amount: 1000, country: "NG", want: Flutterwave},
		{name: "unrestricted gateway serves any country", configs: withCountries, amount: 1000, country: "ZA", want: Providus},
		{name: "country matching ignores case", configs: withCountries, amount: 1000, country: "gh", want: Paystack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(newFixtureRegistry(t, tt.configs...))
			got, err := s.SelectBestGateway(decimal.NewFromInt(tt.amount), tt.method, tt.country)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectBestGatewaySkipsDisabled(t *testing.T) {
	r := newFixtureRegistry(t)
	require.NoError(t, r.SetGatewayStatus(Flutterwave, false))
	s := NewSelector(r)

	// Flutterwave is the only QR gateway; once disabled the fallback is paystack.
	got, err := s.SelectBestGateway(decimal.NewFromInt(1000), MethodQRCode, "")
	require.NoError(t, err)
	assert.Equal(t, Paystack, got)
}

func TestSelectBestGatewayExhausted(t *testing.T) {
	r := newFixtureRegistry(t)
	for _, c := range r.All() {
		require.NoError(t, r.SetGatewayStatus(c.ID, false))
	}

	_, err := NewSelector(r).SelectBestGateway(decimal.NewFromInt(1000), "", "")
	assert.ErrorIs(t, err, ErrSelectionExhausted)

	empty, err := NewRegistry()
	require.NoError(t, err)
	_, err = NewSelector(empty).SelectBestGateway(decimal.NewFromInt(1000), "", "")
	assert.ErrorIs(t, err, ErrSelectionExhausted)
}

func TestSelectBestGatewayIsStable(t *testing.T) {
	s := NewSelector(newFixtureRegistry(t))
	amount := decimal.NewFromInt(7_000_000)

	first, err := s.SelectBestGateway(amount, MethodCard, "")
	require.NoError(t, err)
	second, err := s.SelectBestGateway(amount, MethodCard, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, Flutterwave, first)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 1500.50 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1500.5")))

	_, err = ParseAmount("")
	assert.Error(t, err)

	_, err = ParseAmount("ten naira")
	assert.Error(t, err)
}

func TestSelectBestGatewayCurrency(t *testing.T) {
	r, err := NewRegistry(DefaultConfigs()...)
	require.NoError(t, err)
	s := NewSelector(r)

	// 50 naira is under every NGN minimum; the dollar gateway must not win it.
	got, err := s.SelectBestGateway(decimal.NewFromInt(50), "", "")
	require.NoError(t, err)
	assert.Equal(t, Paystack, got)

	got, err = s.SelectBestGatewayIn("usd", decimal.NewFromInt(50), MethodCard, "")
	require.NoError(t, err)
	assert.Equal(t, Stripe, got)

	got, err = s.SelectBestGatewayIn("NGN", decimal.NewFromInt(20_000_000), "", "")
	require.NoError(t, err)
	assert.Equal(t, Providus, got)
}

func TestLimitsAccepts(t *testing.T) {
	l := Limits{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(10), Currency: "USD"}
	assert.True(t, l.Accepts("usd", decimal.NewFromInt(5)))
	assert.False(t, l.Accepts("NGN", decimal.NewFromInt(5)))
	assert.False(t, l.Accepts("USD", decimal.NewFromInt(11)))

	unset := Limits{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(10)}
	assert.True(t, unset.Accepts(DefaultCurrency, decimal.NewFromInt(5)))
}
