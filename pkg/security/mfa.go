package security

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	qrSize     = 256
)

// TwoFactorSecret is a freshly generated shared secret and its provisioning payloads.
type TwoFactorSecret struct {
	Key    string // Base32, shown once for manual entry
	URL    string // otpauth:// provisioning URI
	QRCode string // data:image/png;base64,...
}

// TOTP generates and verifies time-based codes compatible with standard authenticator apps.
type TOTP struct {
	Issuer string
}

// NewTOTP creates a generator for the given issuer label.
func NewTOTP(issuer string) *TOTP {
	return &TOTP{Issuer: issuer}
}

// Generate creates a new shared secret for the given account label.
func (t *TOTP) Generate(accountName string) (*TwoFactorSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("render totp qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode totp qr code: %w", err)
	}

	return &TwoFactorSecret{
		Key:    key.Secret(),
		URL:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Validate accepts codes from the previous, current or next 30s window.
func (t *TOTP) Validate(code, key string, now time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), key, now.UTC(), validateOpts())
	return err == nil && ok
}

// Code returns the code for key at the given instant.
func (t *TOTP) Code(key string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(key, at.UTC(), validateOpts())
}
