package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// Safaricom MSISDNs: 2547XXXXXXXX or 2541XXXXXXXX.
var kenyanMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone canonicalizes a customer-supplied phone string into the
// 254XXXXXXXXX form the providers require. Accepted inputs:
//
//	0704371652   -> 254704371652
//	704371652    -> 254704371652
//	254704371652 -> 254704371652
//	+254 704 371 652 -> 254704371652
//
// Anything else fails with ErrInvalidPhone.
func NormalizePhone(input string) (string, error) {
	digits := nonDigits.ReplaceAllString(input, "")
	var msisdn string
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		msisdn = "254" + digits[1:]
	case strings.HasPrefix(digits, "254") && len(digits) == 12:
		msisdn = digits
	case len(digits) == 9:
		msisdn = "254" + digits
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, input)
	}
	if !kenyanMSISDN.MatchString(msisdn) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, input)
	}
	return msisdn, nil
}
