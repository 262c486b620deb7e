package service

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// DefaultCheckoutOrigin is the hosted Payme checkout.
const DefaultCheckoutOrigin = "https://checkout.paycom.uz/"

// BuildCheckoutURL encodes the merchant, charge reference and amount (in
// tiyin) into a Payme checkout link.
func BuildCheckoutURL(merchantID string, amountMinorUnits int64, chargeRef string) string {
	return buildCheckoutURL(DefaultCheckoutOrigin, merchantID, amountMinorUnits, chargeRef)
}

func buildCheckoutURL(origin, merchantID string, amountMinorUnits int64, chargeRef string) string {
	params := "m=" + merchantID + ";ac.charge_id=" + chargeRef + ";a=" + strconv.FormatInt(amountMinorUnits, 10) + ";l=ru"
	if origin == "" {
		origin = DefaultCheckoutOrigin
	}
	if !strings.HasSuffix(origin, "/") {
		origin += "/"
	}
	return origin + base64.StdEncoding.EncodeToString([]byte(params))
}
