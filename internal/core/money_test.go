package core

import (
	"errors"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	valid := map[string]int64{
		"500":     50000,
		"12.5":    1250,
		"12,34":   1234,
		"0.01":    1,
		".5":      50,
		"1.005":   101, // half-up on the third digit
		"12.344":  1234,
		" 2.50 ":  250,
		"1000.01": 100001,
	}
	for in, want := range valid {
		got, err := ParseDecimalToCents(in)
		if err != nil || got != want {
			t.Errorf("ParseDecimalToCents(%q) = %d, %v; want %d", in, got, err, want)
		}
	}

	for _, in := range []string{"", "0", "0.00", "-10", "+5", "abc", "1.2.3", "1.234,5", "1e3", "99999999999999999999", "5.０", "1.٣", "٥", "１２"} {
		if _, err := ParseDecimalToCents(in); !errors.Is(err, ErrInvalidAmount) || !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseDecimalToCents(%q) error = %v, want invalid amount", in, err)
		}
	}
}

func TestMoneyArithmeticAndFormat(t *testing.T) {
	a := Money{Cents: 50000}
	b := Money{Cents: 12345}
	if got := a.Add(b); got.Cents != 62345 {
		t.Fatalf("Add = %d", got.Cents)
	}
	if got := a.Sub(b); got.Cents != 37655 {
		t.Fatalf("Sub = %d", got.Cents)
	}
	if got := b.Sub(a); got.Cents != 0 {
		t.Fatalf("Sub should floor at zero, got %d", got.Cents)
	}
	if s := b.String(); s != "123.45" {
		t.Fatalf("String = %q", s)
	}
	if s := (Money{Cents: 7}).String(); s != "0.07" {
		t.Fatalf("String = %q", s)
	}
}
