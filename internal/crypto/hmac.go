package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// APICreds holds the L2 credentials derived during the adapter handshake
// and used to HMAC-sign every authenticated CLOB request.
type APICreds struct {
	Key        string // API key
	Secret     string // base64-encoded API secret
	Passphrase string
}

// L2Headers returns the HTTP headers for an authenticated CLOB request. The
// signature is HMAC-SHA256(base64-decoded secret, timestamp+method+path+body)
// encoded as base64.
func (c *APICreds) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is like L2Headers with a caller-supplied Unix timestamp, for
// deterministic testing.
func (c *APICreds) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		// A non-base64 secret yields an obviously-wrong signature rather
		// than a panic.
		secretBytes = []byte(c.Secret)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// String returns a redacted representation suitable for logging.
func (c *APICreds) String() string {
	redacted := "****"
	if len(c.Key) > 4 {
		redacted = c.Key[:4] + "****"
	}
	return "APICreds{Key:" + redacted + "}"
}
