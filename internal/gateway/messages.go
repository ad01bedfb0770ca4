package gateway

import "strings"

const defaultMessage = "Your payment could not be processed. Please try again or use a different payment method."

var messages = map[string]string{
	"card_declined":           "Your card was declined. Please use a different card.",
	"generic_decline":         "Your card was declined. Please use a different card.",
	"insufficient_funds":      "Your card has insufficient funds.",
	"lost_card":               "Your card was declined. Please contact your bank.",
	"stolen_card":             "Your card was declined. Please contact your bank.",
	"expired_card":            "Your card has expired. Please update your card details.",
	"incorrect_cvc":           "Your card's security code is incorrect.",
	"invalid_cvc":             "Your card's security code is invalid.",
	"incorrect_number":        "Your card number is incorrect.",
	"invalid_expiry_month":    "Your card's expiration month is invalid.",
	"invalid_expiry_year":     "Your card's expiration year is invalid.",
	"processing_error":        "An error occurred while processing your card. Please try again.",
	"authentication_required": "Your bank requires you to authorize this payment. Please update your card.",
	"do_not_honor":            "Your card was declined. Please contact your bank.",
	"charge_already_refunded": "This payment has already been refunded.",
	"balance_insufficient":    "The platform balance cannot cover this transfer right now.",
	"account_closed":          "The destination account is closed. Please update your payout details.",
	"no_account":              "The destination account could not be found. Please update your payout details.",
	"rate_limit":              "The payment provider is busy. We will try again shortly.",
	"CARD_DECLINED":           "Your card was declined. Please use a different card.",
	"CVV_FAILURE":             "Your card's security code is incorrect.",
	"INSUFFICIENT_FUNDS":      "Your card has insufficient funds.",
	"CARD_EXPIRED":            "Your card has expired. Please update your card details.",
	"INVALID_EXPIRATION":      "Your card's expiration date is invalid.",
	"GENERIC_DECLINE":         "Your card was declined. Please use a different card.",
	"PAYMENT_AMOUNT_MISMATCH": "The payment amount did not match the invoice.",
	"TRANSACTION_LIMIT":       "This payment exceeds your card's limit.",
	"VOICE_FAILURE":           "Your card was declined. Please contact your bank.",
}

// HumanMessage translates a processor failure code into text safe to show
// the affected user. Unknown codes get a generic sentence.
func HumanMessage(code string) string {
	code = strings.TrimSpace(code)
	if msg, ok := messages[code]; ok {
		return msg
	}
	if msg, ok := messages[strings.ToLower(code)]; ok {
		return msg
	}
	return defaultMessage
}
