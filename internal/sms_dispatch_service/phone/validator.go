package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when the caller supplies no region hint.
const DefaultRegion = "US"

// Validate parses a raw phone number using regionHint as the default country
// for numbers without an explicit country code, and returns the canonical
// E.164 form. Malformed or invalid numbers are an expected, common case in
// bulk recipient lists, so the failure mode is a simple ok=false rather than
// an error.
func Validate(raw, regionHint string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	region := strings.ToUpper(strings.TrimSpace(regionHint))
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
