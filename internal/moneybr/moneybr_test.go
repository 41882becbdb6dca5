package moneybr

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   float64
		wantOK bool
	}{
		{name: "thousands and decimal", in: "1.234,56", want: 1234.56, wantOK: true},
		{name: "no thousands", in: "600,00", want: 600.0, wantOK: true},
		{name: "integer", in: "75", want: 75.0, wantOK: true},
		{name: "millions", in: "12.345.678,90", want: 12345678.9, wantOK: true},
		{name: "surrounding spaces", in: "  150,50 ", want: 150.5, wantOK: true},
		{name: "blank", in: "", want: 0, wantOK: false},
		{name: "whitespace only", in: "   ", want: 0, wantOK: false},
		{name: "garbage", in: "#VALOR!", want: 0, wantOK: false},
		{name: "negative", in: "-1.000,25", want: -1000.25, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOrZero(t *testing.T) {
	if got := ParseOrZero("not a number"); got != 0 {
		t.Errorf("ParseOrZero garbage = %v, want 0", got)
	}
	if got := ParseOrZero("1.234,56"); got != 1234.56 {
		t.Errorf("ParseOrZero = %v, want 1234.56", got)
	}
}
