package reconcile

import "errors"

// ErrMalformedPayload marks events whose payload is structurally unusable.
// These are the only processing errors the webhook endpoint reports back to
// the provider with a 400; everything else is recorded and acknowledged so
// the provider does not retry events we can never process differently.
var ErrMalformedPayload = errors.New("malformed event payload")
