package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		want        string
		expectError bool
	}{
		{name: "Integer", in: "10", want: "10.00000000"},
		{name: "EightDigits", in: "0.00000001", want: "0.00000001"},
		{name: "TrailingZeros", in: "1.500000000000", want: "1.50000000"},
		{name: "NineDigits", in: "0.000000001", expectError: true},
		{name: "Garbage", in: "abc", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, String(got))
		})
	}
}

func TestMul_Truncates(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"5", "10", "50.00000000"},
		{"0.33333333", "0.33333333", "0.11111110"},
		{"1.99999999", "0.00000001", "0.00000001"},
		{"0.00000001", "0.5", "0.00000000"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"x"+tt.b, func(t *testing.T) {
			got := Mul(MustParse(tt.a), MustParse(tt.b))
			assert.Equal(t, tt.want, String(got))
		})
	}
}

func TestCommission(t *testing.T) {
	assert.Equal(t, "0.75000000", String(Commission(MustParse("50"))))
	// 0.00000066 * 0.015 = 0.0000000099, truncated to zero rather than rounded up.
	assert.Equal(t, "0.00000000", String(Commission(MustParse("0.00000066"))))
	assert.True(t, Commission(MustParse("123.45678901")).GreaterThanOrEqual(decimal.Zero))
	assert.Equal(t, "1.85185183", String(Commission(MustParse("123.45678901"))))
}

func TestInRange(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"9999999999999999999999.99999999", true},
		{"-9999999999999999999999.99999999", true},
		{"10000000000000000000000", false},
		{"0", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, InRange(MustParse(tt.in)))
		})
	}
}
