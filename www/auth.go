package www

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"

	"bambuoverlay/store"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "bambuoverlay_session"
	userKey     = "username"
)

type sessionStore struct {
	cs *sessions.CookieStore
}

func newSessionStore(secret string) *sessionStore {
	cs := sessions.NewCookieStore(sessionKey(secret))
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{cs: cs}
}

// sessionKey decodes a base64 secret. A missing or short secret yields a
// random key, so sessions do not survive a restart.
func sessionKey(secret string) []byte {
	if key, err := base64.StdEncoding.DecodeString(secret); err == nil && len(key) >= 32 {
		return key
	}
	key := make([]byte, 32)
	rand.Read(key)
	return key
}

// user returns the logged-in username, or "".
func (s *sessionStore) user(r *http.Request) string {
	sess, err := s.cs.Get(r, sessionName)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[userKey].(string)
	return name
}

func (s *sessionStore) login(w http.ResponseWriter, r *http.Request, username string) error {
	sess, _ := s.cs.Get(r, sessionName)
	sess.Values[userKey] = username
	return sess.Save(r, w)
}

func (s *sessionStore) logout(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.cs.Get(r, sessionName)
	delete(sess.Values, userKey)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// ensureDefaultAdmin creates admin/admin on an empty user table.
func ensureDefaultAdmin(db *store.DB) {
	exists, err := db.AdminUserExists()
	if err != nil || exists {
		return
	}
	hash, err := hashPassword("admin")
	if err != nil {
		return
	}
	if _, err := db.CreateAdminUser("admin", hash); err != nil {
		log.Printf("www: create default admin: %v", err)
		return
	}
	log.Printf("www: created default admin user (change the password)")
}
