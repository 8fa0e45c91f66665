package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// CredentialVerifier answers whether a username/password pair matches
// the configured admin identity. Implementations must not leak timing.
type CredentialVerifier interface {
	Verify(username, password string) bool
}

// HashCredential derives the salted HMAC-SHA256 digest stored in
// configuration for a password.
func HashCredential(password string, salt []byte) string {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HashVerifier checks passwords against a salted hash from config.
type HashVerifier struct {
	username string
	hash     string
	salt     []byte
}

func NewHashVerifier(username, passwordHash string, salt []byte) HashVerifier {
	return HashVerifier{
		username: username,
		hash:     passwordHash,
		salt:     append([]byte(nil), salt...),
	}
}

func (v HashVerifier) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	hashOK := subtle.ConstantTimeCompare([]byte(HashCredential(password, v.salt)), []byte(v.hash)) == 1
	return userOK && hashOK
}

// StaticVerifier holds a plaintext pair. Development use only.
type StaticVerifier struct {
	Username string
	Password string
}

func (v StaticVerifier) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(v.Password)) == 1
	return userOK && passOK
}
