package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

const sha1Prefix = "sha1="

// VerifyFunc reports whether credential proves that body was sent by someone knowing secret.
type VerifyFunc func(credential string, body []byte, secret string) bool

// GenMAC generates the HMAC signature for a message provided the secret key.
func GenMAC(h func() hash.Hash, message, key []byte) []byte {
	mac := hmac.New(h, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifySHA1Prefixed checks a "sha1=<hex>" HMAC-SHA1 signature, as sent by GitHub and Coding.net.
func VerifySHA1Prefixed(credential string, body []byte, secret string) bool {
	expected := sha1Prefix + hex.EncodeToString(GenMAC(sha1.New, body, []byte(secret)))
	return hmac.Equal([]byte(expected), []byte(credential))
}

// VerifySHA256 checks a bare hex HMAC-SHA256 signature, as sent by Gogs.
func VerifySHA256(credential string, body []byte, secret string) bool {
	expected := hex.EncodeToString(GenMAC(sha256.New, body, []byte(secret)))
	return hmac.Equal([]byte(expected), []byte(credential))
}

// VerifySecret checks a shared token sent verbatim by the provider.
// No digest is involved, so the body is not consulted.
func VerifySecret(credential string, _ []byte, secret string) bool {
	return credential == secret
}
