package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	stripe "github.com/stripe/stripe-go/v82"

	"streamvault/internal/types"
)

// ---------------------------------------------------------------------------
// Razorpay verification
// ---------------------------------------------------------------------------

// RazorpayVerifier implements WebhookVerifier and CheckoutVerifier for the
// Razorpay gateway. Both schemes are HMAC-SHA256 hex digests, but over
// different messages and with different secrets:
//
//   - Webhooks: digest over the raw, unparsed request body, keyed with the
//     webhook secret, carried in X-Razorpay-Signature.
//   - Order checkout: digest over "{orderID}|{paymentID}", keyed with the
//     API key secret, handed to the browser at checkout completion.
//   - Subscription checkout: digest over "{paymentID}|{subscriptionID}",
//     keyed with the API key secret.
//
// All comparisons are constant-time. Verification has no side effects and
// is never retried: a mismatch is an attack or a misconfiguration.
type RazorpayVerifier struct{}

// Verify checks a webhook body signature against the webhook secret.
func (v *RazorpayVerifier) Verify(payload []byte, signatureHeader string, secret types.SecretString) error {
	if secret.Unmask() == "" {
		return types.NewAppError(types.ErrCodeConfigMissing, "webhook secret is not configured", nil)
	}
	return compareHMAC(payload, signatureHeader, secret)
}

// VerifyOrder checks a client-submitted one-time checkout signature.
func (v *RazorpayVerifier) VerifyOrder(orderID, paymentID, signature string, secret types.SecretString) error {
	if secret.Unmask() == "" {
		return types.NewAppError(types.ErrCodeConfigMissing, "gateway key secret is not configured", nil)
	}
	return compareHMAC([]byte(orderID+"|"+paymentID), signature, secret)
}

// VerifySubscription checks a client-submitted subscription checkout
// signature.
func (v *RazorpayVerifier) VerifySubscription(paymentID, subscriptionID, signature string, secret types.SecretString) error {
	if secret.Unmask() == "" {
		return types.NewAppError(types.ErrCodeConfigMissing, "gateway key secret is not configured", nil)
	}
	return compareHMAC([]byte(paymentID+"|"+subscriptionID), signature, secret)
}

// compareHMAC computes the HMAC-SHA256 hex digest of message and compares it
// to the provided signature in constant time.
func compareHMAC(message []byte, signature string, secret types.SecretString) error {
	mac := hmac.New(sha256.New, []byte(secret.Unmask()))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return types.NewAppError(types.ErrCodeSignatureMismatch, "signature mismatch", nil)
	}
	return nil
}

// Compile-time interface assertions.
var (
	_ WebhookVerifier  = (*RazorpayVerifier)(nil)
	_ CheckoutVerifier = (*RazorpayVerifier)(nil)
)

// ---------------------------------------------------------------------------
// Stripe verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's payload
// validation, which checks the Stripe-Signature HMAC and enforces the
// default timestamp tolerance against replay.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signing secret.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string, secret types.SecretString) error {
	if secret.Unmask() == "" {
		return types.NewAppError(types.ErrCodeConfigMissing, "stripe webhook secret is not configured", nil)
	}
	if err := stripe.ValidatePayload(payload, signatureHeader, secret.Unmask()); err != nil {
		return types.NewAppError(types.ErrCodeSignatureMismatch, "signature mismatch", err)
	}
	return nil
}

var _ WebhookVerifier = (*StripeVerifier)(nil)
