package services

import (
	"errors"
	"testing"
)

func TestValidateCustomerCleansFields(t *testing.T) {
	customer := Customer{
		FirstName: "  <b>Ada</b> ",
		LastName:  "Lovélace",
		Email:     " ADA@Example.COM ",
		Address:   "1   Main\tSt",
		City:      "Savannah<script>alert(1)</script>",
		State:     "GA",
		Zip:       "31401-1234",
	}
	if err := validateCustomer(&customer); err != nil {
		t.Fatalf("validateCustomer: %v", err)
	}
	if customer.FirstName != "Ada" {
		t.Fatalf("expected markup stripped, got %q", customer.FirstName)
	}
	if customer.LastName != "Lov\u00e9lace" {
		t.Fatalf("expected NFC normalisation, got %q", customer.LastName)
	}
	if customer.Email != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", customer.Email)
	}
	if customer.Address != "1 Main St" {
		t.Fatalf("expected collapsed whitespace, got %q", customer.Address)
	}
	if customer.City != "Savannah" {
		t.Fatalf("expected script removed, got %q", customer.City)
	}
}

func TestValidateCustomerReportsFirstInvalidField(t *testing.T) {
	base := Customer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Address:   "1 Main St",
		City:      "Savannah",
		State:     "GA",
		Zip:       "31401",
	}

	tests := []struct {
		name    string
		mutate  func(*Customer)
		field   string
		message string
	}{
		{name: "missing first name", mutate: func(c *Customer) { c.FirstName = " " }, field: "firstName", message: "Please provide a valid first name."},
		{name: "markup only last name", mutate: func(c *Customer) { c.LastName = "<i></i>" }, field: "lastName", message: "Please provide a valid last name."},
		{name: "email without domain dot", mutate: func(c *Customer) { c.Email = "ada@example" }, field: "email", message: "Please provide a valid email address."},
		{name: "email with two ats", mutate: func(c *Customer) { c.Email = "a@b@example.com" }, field: "email", message: "Please provide a valid email address."},
		{name: "state with digits", mutate: func(c *Customer) { c.State = "G4" }, field: "state", message: "Please provide a valid state."},
		{name: "short zip", mutate: func(c *Customer) { c.Zip = "1234" }, field: "zip", message: "Please provide a valid ZIP code."},
		{name: "first of several", mutate: func(c *Customer) { c.City = ""; c.Zip = "" }, field: "city", message: "Please provide a valid city."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			customer := base
			tc.mutate(&customer)
			err := validateCustomer(&customer)
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
			var validation *CheckoutValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected CheckoutValidationError, got %T", err)
			}
			if validation.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, validation.Field)
			}
			if validation.UserMessage() != tc.message {
				t.Fatalf("unexpected message %q", validation.UserMessage())
			}
		})
	}
}

func TestValidZip(t *testing.T) {
	for value, want := range map[string]bool{
		"31401":      true,
		"314011234":  true,
		"31401-1234": true,
		"3140A":      false,
		"31401-123":  false,
		"":           false,
	} {
		if got := validZip(value); got != want {
			t.Errorf("validZip(%q) = %v, want %v", value, got, want)
		}
	}
}
