// Package panel exposes the HTTP control surface: one endpoint per
// state-mutation verb named in spec §4.1/§4.4/§4.7, plus read-only
// listings, gated by an HMAC-over-expiry session cookie (spec §6).
package panel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// NewToken builds a session token valid until now+ttlSeconds: the literal
// string "<expiry-seconds>.<hex-hmac>", the signature covering the expiry
// value under the panel password as key (spec §6, §8 scenario 6).
func NewToken(password string, now, ttlSeconds int64) string {
	expiry := now + ttlSeconds
	return strconv.FormatInt(expiry, 10) + "." + signExpiry(password, expiry)
}

// VerifyToken reports whether token is a well-formed, correctly-signed,
// not-yet-expired token for password at time now.
func VerifyToken(password, token string, now int64) bool {
	expiryStr, sig, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return false
	}
	want := signExpiry(password, expiry)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return false
	}
	return now <= expiry
}

func signExpiry(password string, expiry int64) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
