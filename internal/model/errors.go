package model

import "errors"

var (
	ErrMalformedPubkey    = errors.New("model: malformed public key")
	ErrMalformedSignature = errors.New("model: malformed signature")
)
