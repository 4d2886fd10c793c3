package validation

import (
	"errors"
	"testing"
)

func TestParseAmountCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "200000", want: 20000000},
		{in: "150000.50", want: 15000050},
		{in: "0.01", want: 1},
		{in: " 10 ", want: 1000},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "+Inf", wantErr: true},
		{in: "-Inf", wantErr: true},
		// после перевода в копейки сумма не помещается в int64
		{in: "92233720368547758.08", wantErr: true},
		{in: "1e30", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAmountCents(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("ParseAmountCents(%q) error = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmountCents(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmountCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseNonNegativeAmountCents(t *testing.T) {
	got, err := ParseNonNegativeAmountCents("0")
	if err != nil {
		t.Fatalf("ParseNonNegativeAmountCents(0) error: %v", err)
	}
	if got != 0 {
		t.Fatalf("ParseNonNegativeAmountCents(0) = %d, want 0", got)
	}

	if _, err := ParseNonNegativeAmountCents("-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative value, got %v", err)
	}
	if _, err := ParseNonNegativeAmountCents("NaN"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for NaN, got %v", err)
	}
	if _, err := ParseNonNegativeAmountCents("92233720368547758.08"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for overflowing value, got %v", err)
	}
}

func TestParseAmountCents_NeverNegative(t *testing.T) {
	// значения вблизи границы int64 не должны проходить валидацию
	// с отрицательным результатом после переполнения
	for _, in := range []string{"92233720368547758.07", "92233720368547758.08", "9223372036854775807"} {
		got, err := ParseAmountCents(in)
		if err == nil && got <= 0 {
			t.Errorf("ParseAmountCents(%q) = %d without error, want positive or ErrInvalidAmount", in, got)
		}
	}
}

func TestCentsToAmount(t *testing.T) {
	if got := CentsToAmount(15000050); got != 150000.5 {
		t.Fatalf("CentsToAmount(15000050) = %v, want 150000.5", got)
	}
	if got := CentsToAmount(0); got != 0 {
		t.Fatalf("CentsToAmount(0) = %v, want 0", got)
	}
}
