package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const signedPrefix = "s:"

// Sign returns the cookie value for id: "s:<id>.<mac>".
func Sign(id, secret string) string {
	return signedPrefix + id + "." + mac(id, secret)
}

// Unsign verifies a cookie value produced by Sign and returns the session id.
func Unsign(value, secret string) (string, bool) {
	rest, ok := strings.CutPrefix(value, signedPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 {
		return "", false
	}
	id, sig := rest[:i], rest[i+1:]
	if !hmac.Equal([]byte(sig), []byte(mac(id, secret))) {
		return "", false
	}
	return id, true
}

func mac(id, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(id))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}
