package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
)

const (
	signatureHeader           = "Stripe-Signature"
	defaultSignatureTolerance = 5 * time.Minute
)

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<payload>"
func ComputeSignature(secret string, ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a header value in the "t=<unix>,v1=<hex>" form
func SignatureHeader(secret string, ts time.Time, payload []byte) string {
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + ComputeSignature(secret, ts, payload)
}

// verifySignature checks a signature header against the payload. Any v1
// signature may match and the timestamp must be within tolerance of now.
func verifySignature(header string, payload []byte, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return goerr.Wrap(model.ErrSignatureVerification, "signature header is missing")
	}

	var (
		ts         int64
		hasTS      bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return goerr.Wrap(model.ErrSignatureVerification, "invalid signature timestamp", goerr.V("t", value))
			}
			ts, hasTS = v, true
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if !hasTS {
		return goerr.Wrap(model.ErrSignatureVerification, "signature timestamp is missing")
	}
	if len(signatures) == 0 {
		return goerr.Wrap(model.ErrSignatureVerification, "no v1 signature")
	}

	signedAt := time.Unix(ts, 0)
	if age := now.Sub(signedAt); age > tolerance || age < -tolerance {
		return goerr.Wrap(model.ErrSignatureVerification, "signature timestamp is out of tolerance",
			goerr.V("signed_at", signedAt),
			goerr.V("tolerance", tolerance))
	}

	expected, _ := hex.DecodeString(ComputeSignature(secret, signedAt, payload))
	for _, sig := range signatures {
		raw, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(raw, expected) {
			return nil
		}
	}

	return goerr.Wrap(model.ErrSignatureVerification, "signature mismatch")
}
