package domain

import "errors"

var (
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrMissingPaymentIntent  = errors.New("missing_payment_intent")
	ErrRefundGatewayDisabled = errors.New("refund_gateway_disabled")
	ErrMissingPaymentMethod  = errors.New("missing_payment_method")
)
