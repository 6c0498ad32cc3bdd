package services

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	domain "github.com/southernsense/storefront/internal/domain"
)

const (
	maxNameLength    = 100
	maxAddressLength = 200
)

var formPolicy = bluemonday.StrictPolicy()

// CheckoutValidationError names the first form field that failed validation.
type CheckoutValidationError struct {
	Field string
	Label string
}

func (e *CheckoutValidationError) Error() string {
	return "checkout: invalid " + e.Field
}

// Unwrap lets callers match ErrCheckoutInvalidInput.
func (e *CheckoutValidationError) Unwrap() error {
	return ErrCheckoutInvalidInput
}

// UserMessage is the inline error shown next to the form.
func (e *CheckoutValidationError) UserMessage() string {
	return "Please provide a valid " + e.Label + "."
}

type formField struct {
	name  string
	label string
	value *string
	valid func(string) bool
}

// validateCustomer cleans every field in place and reports the first invalid one in form order.
func validateCustomer(customer *domain.Customer) error {
	fields := []formField{
		{name: "firstName", label: "first name", value: &customer.FirstName, valid: maxRunes(maxNameLength)},
		{name: "lastName", label: "last name", value: &customer.LastName, valid: maxRunes(maxNameLength)},
		{name: "email", label: "email address", value: &customer.Email, valid: validEmail},
		{name: "address", label: "address", value: &customer.Address, valid: maxRunes(maxAddressLength)},
		{name: "city", label: "city", value: &customer.City, valid: maxRunes(maxNameLength)},
		{name: "state", label: "state", value: &customer.State, valid: validState},
		{name: "zip", label: "ZIP code", value: &customer.Zip, valid: validZip},
	}
	for _, field := range fields {
		*field.value = cleanFormField(*field.value)
	}
	for _, field := range fields {
		if *field.value == "" || !field.valid(*field.value) {
			return &CheckoutValidationError{Field: field.name, Label: field.label}
		}
	}
	customer.Email = strings.ToLower(customer.Email)
	return nil
}

// cleanFormField strips markup, NFC-normalises and collapses whitespace.
func cleanFormField(value string) string {
	cleaned := html.UnescapeString(formPolicy.Sanitize(value))
	cleaned = norm.NFC.String(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

func maxRunes(limit int) func(string) bool {
	return func(value string) bool {
		return utf8.RuneCountInString(value) <= limit
	}
}

func validEmail(value string) bool {
	if strings.ContainsAny(value, " \t") || len(value) > 254 {
		return false
	}
	at := strings.Index(value, "@")
	if at <= 0 || at != strings.LastIndex(value, "@") {
		return false
	}
	host := value[at+1:]
	dot := strings.LastIndex(host, ".")
	return dot > 0 && dot < len(host)-1 && !strings.HasPrefix(host, ".")
}

func validState(value string) bool {
	if utf8.RuneCountInString(value) < 2 || utf8.RuneCountInString(value) > 50 {
		return false
	}
	for _, r := range value {
		if !unicode.IsLetter(r) && r != ' ' && r != '.' {
			return false
		}
	}
	return true
}

// validZip accepts 12345, 123456789 and 12345-6789.
func validZip(value string) bool {
	digits := value
	if len(value) == 10 && value[5] == '-' {
		digits = value[:5] + value[6:]
	}
	if len(digits) != 5 && len(digits) != 9 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
