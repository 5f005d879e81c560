package providers

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultCountryCode = "260"

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// PhoneFormat describes the national numbering plan numbers are normalized to.
type PhoneFormat struct {
	CountryCode    string
	NationalDigits int // subscriber number length without trunk prefix
	Pattern        *regexp.Regexp
}

// NewPhoneFormat returns the format for a country calling code. Zambia
// restricts mobile numbers to the 7 and 9 ranges.
func NewPhoneFormat(countryCode string) PhoneFormat {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = defaultCountryCode
	}
	if countryCode == defaultCountryCode {
		return PhoneFormat{CountryCode: countryCode, NationalDigits: 9, Pattern: regexp.MustCompile(`^260[79]\d{8}$`)}
	}
	return PhoneFormat{
		CountryCode:    countryCode,
		NationalDigits: 9,
		Pattern:        regexp.MustCompile(`^` + regexp.QuoteMeta(countryCode) + `\d{9}$`),
	}
}

// Normalize rewrites raw into the country-prefixed canonical form. Numbers
// with a trunk 0 have it replaced by the country code; bare subscriber
// numbers get the country code prepended. Canonical input is returned as is.
func (f PhoneFormat) Normalize(raw string) (string, error) {
	s := strings.TrimPrefix(phoneSeparators.Replace(strings.TrimSpace(raw)), "+")
	if s == "" {
		return "", &ValidationError{Field: "phoneNumber", Message: "phone number is required"}
	}
	switch {
	case strings.HasPrefix(s, f.CountryCode) && len(s) == len(f.CountryCode)+f.NationalDigits:
	case strings.HasPrefix(s, "0") && len(s) == f.NationalDigits+1:
		s = f.CountryCode + s[1:]
	case len(s) == f.NationalDigits:
		s = f.CountryCode + s
	}
	if !f.Pattern.MatchString(s) {
		return "", &ValidationError{Field: "phoneNumber", Message: "phone number must look like " + f.CountryCode + "XXXXXXXXX"}
	}
	return s, nil
}

// ParseAmount parses a caller supplied amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "amount is required"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "amount must be a number"}
	}
	if err := validateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func validateAmount(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	return nil
}

func validateRedirectURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: "clientRedirectUrl", Message: "a redirect URL is required for card payments"}
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "clientRedirectUrl", Message: "redirect URL must be absolute"}
	}
	return nil
}
