package obsws

import (
	"crypto/sha256"
	"encoding/base64"
)

// AuthString computes the Identify authentication string:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func AuthString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
