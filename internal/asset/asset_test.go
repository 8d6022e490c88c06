package asset

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	cases := map[string]Asset{
		"ARV":      Arvirium,
		"arvirium": Arvirium,
		" eur ":    Euro,
		"BTC":      Bitcoin,
		"Ethereum": Ethereum,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := Parse("doge"); err == nil {
		t.Fatal("unknown asset should fail")
	}
}

func TestPrecisionAndMinimum(t *testing.T) {
	tests := []struct {
		asset     Asset
		precision int32
		minimum   string
	}{
		{Bitcoin, 8, "0.00000001"},
		{Ethereum, 6, "0.000001"},
		{Arvirium, 2, "0.01"},
		{Euro, 2, "0.01"},
	}
	for _, tt := range tests {
		if tt.asset.Precision() != tt.precision {
			t.Fatalf("%s precision = %d, want %d", tt.asset, tt.asset.Precision(), tt.precision)
		}
		if !tt.asset.Minimum().Equal(decimal.RequireFromString(tt.minimum)) {
			t.Fatalf("%s minimum = %s, want %s", tt.asset, tt.asset.Minimum(), tt.minimum)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		asset Asset
		value string
		want  string
	}{
		{Euro, "12.5", "12.50"},
		{Bitcoin, "0.5", "0.50000000"},
		{Bitcoin, "0.0000012", "1.20000000e-06"},
		{Ethereum, "0.000018", "1.800000e-05"},
		{Ethereum, "0.25", "0.250000"},
		{Bitcoin, "0", "0.00000000"},
	}
	for _, tt := range tests {
		got := tt.asset.Format(decimal.RequireFromString(tt.value))
		if got != tt.want {
			t.Fatalf("%s.Format(%s) = %q, want %q", tt.asset, tt.value, got, tt.want)
		}
	}
}
