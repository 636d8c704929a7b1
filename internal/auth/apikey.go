// internal/auth/apikey.go
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Verifier checks presented service API keys against salted Argon2id hashes.
// Session issuance lives with the external auth provider; this side only
// answers "is this a known actor with a valid key".
type Verifier struct {
	keys map[string]hashedKey
}

type hashedKey struct {
	salt []byte
	hash []byte
}

// NewVerifier parses a key spec of the form
// "actor:base64salt:base64hash[,actor2:...]", typically sourced from the
// environment.
func NewVerifier(spec string) (*Verifier, error) {
	v := &Verifier{keys: make(map[string]hashedKey)}
	if spec == "" {
		return v, nil
	}
	for _, part := range strings.Split(spec, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed api key entry %q", part)
		}
		salt, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("failed to decode salt for %q: %w", fields[0], err)
		}
		hash, err := base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to decode hash for %q: %w", fields[0], err)
		}
		v.keys[fields[0]] = hashedKey{salt: salt, hash: hash}
	}
	return v, nil
}

// Verify reports whether key is the actor's key.
func (v *Verifier) Verify(actor, key string) bool {
	hk, ok := v.keys[actor]
	if !ok {
		return false
	}
	comparison := argon2.IDKey([]byte(key), hk.salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(comparison, hk.hash) == 1
}

// HashKey generates a salted Argon2id hash for provisioning a new key.
func HashKey(key string) (string, string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	hash := argon2.IDKey([]byte(key), salt, 1, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(hash), base64.StdEncoding.EncodeToString(salt), nil
}
