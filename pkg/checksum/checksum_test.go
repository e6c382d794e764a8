package checksum

import (
	"strings"
	"testing"
)

func TestCalculateSHA256(t *testing.T) {
	// sha256("hello") is a well-known vector.
	sum, err := CalculateSHA256(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("sum = %q, want %q", sum, want)
	}
}

func TestCalculateSHA256_Empty(t *testing.T) {
	sum, err := CalculateSHA256(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if sum != want {
		t.Errorf("sum = %q, want %q", sum, want)
	}
}

func TestVerifySHA256(t *testing.T) {
	ok, err := VerifySHA256(strings.NewReader("hello"),
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected checksum to verify")
	}

	ok, err = VerifySHA256(strings.NewReader("tampered"), "2cf24dba")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected mismatched checksum to fail verification")
	}
}
