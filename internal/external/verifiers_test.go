package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamvault/internal/types"
)

func signHex(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayVerifier_Verify(t *testing.T) {
	secret := types.SecretString("whsec_test_123")
	payload := []byte(`{"event":"order.paid","payload":{}}`)
	v := &RazorpayVerifier{}

	t.Run("valid signature", func(t *testing.T) {
		sig := signHex("whsec_test_123", payload)
		assert.NoError(t, v.Verify(payload, sig, secret))
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := signHex("whsec_test_123", payload)
		tampered := []byte(`{"event":"order.paid","payload":{"x":1}}`)

		err := v.Verify(tampered, sig, secret)
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := signHex("some_other_secret", payload)
		assert.Error(t, v.Verify(payload, sig, secret))
	})

	t.Run("empty signature header", func(t *testing.T) {
		err := v.Verify(payload, "", secret)
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)
	})

	t.Run("missing secret", func(t *testing.T) {
		err := v.Verify(payload, "deadbeef", types.SecretString(""))
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeConfigMissing, appErr.Code)
	})
}

func TestRazorpayVerifier_VerifyOrder(t *testing.T) {
	secret := types.SecretString("key_secret_abc")
	v := &RazorpayVerifier{}

	t.Run("valid", func(t *testing.T) {
		sig := signHex("key_secret_abc", []byte("order_123|pay_456"))
		assert.NoError(t, v.VerifyOrder("order_123", "pay_456", sig, secret))
	})

	t.Run("swapped ids", func(t *testing.T) {
		sig := signHex("key_secret_abc", []byte("order_123|pay_456"))
		err := v.VerifyOrder("pay_456", "order_123", sig, secret)
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)
	})

	t.Run("forged signature", func(t *testing.T) {
		assert.Error(t, v.VerifyOrder("order_123", "pay_456", "not-a-real-sig", secret))
	})
}

func TestRazorpayVerifier_VerifySubscription(t *testing.T) {
	secret := types.SecretString("key_secret_abc")
	v := &RazorpayVerifier{}

	// Subscription checkout signs payment id first, the reverse of the
	// order scheme.
	sig := signHex("key_secret_abc", []byte("pay_456|sub_789"))

	assert.NoError(t, v.VerifySubscription("pay_456", "sub_789", sig, secret))
	assert.Error(t, v.VerifySubscription("sub_789", "pay_456", sig, secret))
}

func TestStripeVerifier_Verify(t *testing.T) {
	v := &StripeVerifier{}
	payload := []byte(`{"type":"invoice.paid"}`)

	t.Run("missing secret", func(t *testing.T) {
		err := v.Verify(payload, "t=1,v1=abc", types.SecretString(""))
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeConfigMissing, appErr.Code)
	})

	t.Run("garbage header", func(t *testing.T) {
		err := v.Verify(payload, "not a stripe header", types.SecretString("whsec_x"))
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)
	})
}
