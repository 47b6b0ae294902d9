package verify

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// PhoneRegion returns the ISO 3166-1 alpha-2 region for an E.164 phone
// number, or "" if it cannot be parsed. The region is coarse enough to log;
// the number itself never is.
func PhoneRegion(phone string) string {
	num, err := phonenumbers.Parse(phone, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}

// IsAllowedCountry checks whether the phone's region matches one of the
// allowed country codes. An empty allowed list permits all numbers without
// parsing them, so the provider stays the only phone-format authority.
func IsAllowedCountry(phone string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	region := PhoneRegion(phone)
	if region == "" {
		return false
	}
	for _, code := range allowed {
		if strings.EqualFold(code, region) {
			return true
		}
	}
	return false
}
