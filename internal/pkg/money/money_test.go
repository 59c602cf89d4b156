package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFits(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"100", true},
		{"-25.5", true},
		{"0.000000000000000001", true},
		{"1.500000000000000000000", true},
		{"999999999999999999.999999999999999999", true},
		{"0.0000000000000000001", false},
		{"1000000000000000000", false},
		{"1e18", false},
		{"1e17", true},
		{"1e40", false},
		{"1e-19", false},
		{"1e-2000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Fits(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestFitsHugeExponentIsCheap(t *testing.T) {
	d := decimal.RequireFromString("1e2000000")
	start := time.Now()
	assert.False(t, Fits(d))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestParse(t *testing.T) {
	d, ok := Parse("12.34")
	assert.True(t, ok)
	assert.Equal(t, "12.34", d.String())

	_, ok = Parse("abc")
	assert.False(t, ok)
	_, ok = Parse("0.0000000000000000001")
	assert.False(t, ok)
}
