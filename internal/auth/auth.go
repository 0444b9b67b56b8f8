// Package auth guards the local status API with HTTP basic authentication
// against a bcrypt password hash.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoCredentials      = errors.New("no credentials")
)

// Config enables basic auth. PasswordHash is a bcrypt hash, see HashPassword.
type Config struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	Username     string `toml:"username" mapstructure:"username"`
	PasswordHash string `toml:"password_hash" mapstructure:"password_hash"`
	// AnonymousRead lets GET requests through without credentials.
	AnonymousRead bool `toml:"anonymous_read" mapstructure:"anonymous_read"`
}

// Validate reports incomplete settings when auth is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Username == "" {
		return errors.New("auth enabled but username is empty")
	}
	if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
		return fmt.Errorf("auth password_hash: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash stored in password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	cfg Config
}

// NewMiddleware validates cfg. A disabled config yields a pass-through middleware.
func NewMiddleware(cfg Config) (*Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Middleware{cfg: cfg}, nil
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m != nil && m.cfg.Enabled }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if m.cfg.AnonymousRead && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
			c.Next()
			return
		}
		switch err := m.authenticate(c.Request); {
		case err == nil:
			c.Next()
		case errors.Is(err, ErrNoCredentials):
			c.Header("WWW-Authenticate", `Basic realm="gokrun"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		}
	}
}

// authenticate checks the basic auth header against the configured user.
func (m *Middleware) authenticate(r *http.Request) error {
	username, password, ok := r.BasicAuth()
	if !ok {
		return ErrNoCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.cfg.Username)) == 1
	// always compare the hash so a wrong username costs the same
	pwErr := bcrypt.CompareHashAndPassword([]byte(m.cfg.PasswordHash), []byte(password))
	if !userOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}
