package models

import (
	"errors"
)

var ErrAuthFailure = errors.New("pesapal: authentication failed")
var ErrInvalidResponse = errors.New("pesapal: invalid gateway response")
var ErrMalformedCallback = errors.New("payment callback missing order tracking id")
var (
	ErrNoRecord             = errors.New("models: no matching record found")
	ErrValidation           = errors.New("models: validation failed")
	ErrUserNotFound         = errors.New("models: user not found")
	ErrProductNotFound      = errors.New("models: product not found")
	ErrSubscriptionNotFound = errors.New("models: subscription not found")
	ErrPaymentStart         = errors.New("payment could not be started")
)
