// Package phone normalizes user-supplied phone numbers into E.164 form.
//
// Normalization is shared by the OTP engine and the phone-keyed rate limit
// so both see the same identity for "0912 123 4567", "0098912..." and
// "+98912...". Parsing and validity come from the libphonenumber metadata.
package phone

import (
	"errors"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultCountryCode is the calling code applied to national numbers.
const DefaultCountryCode = "98"

const unknownRegion = "ZZ"

var (
	ErrInvalid            = errors.New("invalid phone number")
	ErrUnknownCountryCode = errors.New("unknown country calling code")
)

// Region maps a calling code such as "98" or "+44" to its main region.
func Region(countryCode string) (string, error) {
	cc, err := strconv.Atoi(strings.TrimPrefix(countryCode, "+"))
	if err != nil || cc <= 0 {
		return "", ErrUnknownCountryCode
	}
	region := phonenumbers.GetRegionCodeForCountryCode(cc)
	if region == "" || region == unknownRegion {
		return "", ErrUnknownCountryCode
	}
	return region, nil
}

// Normalize parses raw relative to countryCode, rejects numbers that are
// not valid for their region and returns the E.164 form. An empty
// countryCode falls back to DefaultCountryCode.
func Normalize(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	region, err := Region(countryCode)
	if err != nil {
		return "", err
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || !plausible(raw) {
		return "", ErrInvalid
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalid
	}
	if num.GetExtension() != "" || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// plausible limits input to digits, a leading plus and common separators.
// Vanity letters and extensions are not accepted for OTP delivery.
func plausible(raw string) bool {
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Mask hides all but the last four digits, for logs and event metadata.
func Mask(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
