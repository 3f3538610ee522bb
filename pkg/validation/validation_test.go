package validation

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"user@example.com", true},
		{"a@b.c", true},
		{"first.last+tag@sub.domain.org", true},
		{"", false},
		{"plain", false},
		{"user@localhost", false},
		{"user @example.com", false},
		{"@example.com", false},
		{"user@@example.com", false},
		{"user@example.", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.in); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidatorRegistersEmailShape(t *testing.T) {
	v := Validator()
	if v != Validator() {
		t.Fatal("Validator returned a fresh instance")
	}
	if err := v.Var("user@example.com", "email_shape"); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
	if err := v.Var("user@localhost", "email_shape"); err == nil {
		t.Error("address without a dotted domain accepted")
	}
}

func TestLoginFormValidate(t *testing.T) {
	tests := []struct {
		name      string
		form      LoginForm
		wantField string
	}{
		{"valid", LoginForm{Email: " user@example.com ", Password: "x"}, ""},
		{"bad email", LoginForm{Email: "nope", Password: "secret"}, "email"},
		{"empty password", LoginForm{Email: "user@example.com"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tt.form.Email != "user@example.com" {
					t.Errorf("email not trimmed: %q", tt.form.Email)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !ve.Has(tt.wantField) {
				t.Errorf("expected failure on %q, got %+v", tt.wantField, ve.Fields)
			}
		})
	}
}

func TestRegisterFormValidate(t *testing.T) {
	tests := []struct {
		name      string
		form      RegisterForm
		wantField string
	}{
		{"valid", RegisterForm{Name: "Ana", Email: "ana@example.com", Password: "123456"}, ""},
		{"short name after trim", RegisterForm{Name: " A ", Email: "ana@example.com", Password: "123456"}, "name"},
		{"short password", RegisterForm{Name: "Ana", Email: "ana@example.com", Password: "12345"}, "password"},
		{"bad email", RegisterForm{Name: "Ana", Email: "ana@example", Password: "123456"}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || !ve.Has(tt.wantField) {
				t.Fatalf("expected failure on %q, got %v", tt.wantField, err)
			}
		})
	}
}

func TestPlaceFormValidate(t *testing.T) {
	ok := PlaceForm{Name: "Fortress", Category: "Attraction"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.Category != "attraction" {
		t.Errorf("category not normalized: %q", ok.Category)
	}

	bad := PlaceForm{Name: "", Category: "volcano", Website: "not a url"}
	err := bad.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, f := range []string{"name", "category", "website"} {
		if !ve.Has(f) {
			t.Errorf("expected %s to fail, got %+v", f, ve.Fields)
		}
	}
}

func TestIsValidationError(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", Errorf("email", "bad"))
	if !IsValidationError(wrapped) {
		t.Error("IsValidationError(wrapped) = false")
	}
	if IsValidationError(errors.New("other")) {
		t.Error("IsValidationError(other) = true")
	}
}
