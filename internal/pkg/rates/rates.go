// Package rates provides read-only exchange rates between tokens and USD.
package rates

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const USD = "USD"

// Provider returns how many units of `to` one unit of `from` is worth.
type Provider interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// ErrUnknownPair is returned when no rate is configured for a pair.
type ErrUnknownPair struct {
	From, To string
}

func (e *ErrUnknownPair) Error() string {
	return fmt.Sprintf("no rate for %s/%s", e.From, e.To)
}

// StaticProvider serves fixed rates, typically loaded from configuration.
// Inverse pairs are derived automatically.
type StaticProvider struct {
	rates map[string]decimal.Decimal
}

func NewStaticProvider(rates map[string]decimal.Decimal) *StaticProvider {
	p := &StaticProvider{rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, rate := range rates {
		p.rates[strings.ToUpper(pair)] = rate
	}
	return p
}

// ParseStatic parses "NT:USD=0.00065,CT:USD=0.0016" into a StaticProvider.
func ParseStatic(spec string) (*StaticProvider, error) {
	out := make(map[string]decimal.Decimal)
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pair, value, ok := strings.Cut(item, "=")
		if !ok || !strings.Contains(pair, ":") {
			return nil, fmt.Errorf("invalid rate entry %q", item)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid rate value in %q", item)
		}
		out[strings.TrimSpace(pair)] = rate
	}
	return NewStaticProvider(out), nil
}

func (p *StaticProvider) GetRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := p.rates[from+":"+to]; ok {
		return rate, nil
	}
	if rate, ok := p.rates[to+":"+from]; ok && !rate.IsZero() {
		return decimal.NewFromInt(1).DivRound(rate, 18), nil
	}
	return decimal.Zero, &ErrUnknownPair{From: from, To: to}
}

// ToUSD converts a token amount into its USD equivalent.
func ToUSD(ctx context.Context, p Provider, token string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := p.GetRate(ctx, token, USD)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(18), nil
}

// FromUSD converts a USD amount into token units.
func FromUSD(ctx context.Context, p Provider, token string, usd decimal.Decimal) (decimal.Decimal, error) {
	rate, err := p.GetRate(ctx, USD, token)
	if err != nil {
		return decimal.Zero, err
	}
	return usd.Mul(rate).Round(18), nil
}
