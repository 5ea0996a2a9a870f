package pipes

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
)

// The challenge/response handshake the upstream runtime runs before any
// record flows: it sends AUTHENTICATION_REQ with a digest over a random
// challenge, the task verifies it and answers AUTHENTICATION_RESP with a
// digest over the received digest. Both sides are keyed by the shared job
// secret.

// SharedSecretEnv is where the hosting runtime leaves the job secret for
// the task process. Empty means authentication is skipped.
const SharedSecretEnv = "hadoop.pipes.shared.secret"

// Digest computes the base64 HMAC-SHA1 of msg under secret.
func Digest(secret, msg []byte) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}

func verifyDigest(secret, msg, digest []byte) bool {
	return hmac.Equal(Digest(secret, msg), digest)
}
