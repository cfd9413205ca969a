package collab

import (
	"context"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenFunc resolves the auth token embedded in the connection target.
// Called on every (re)connect attempt.
type TokenFunc func(ctx context.Context) (string, error)

// EmptyTokenFunc is the default token hook.
func EmptyTokenFunc(ctx context.Context) (string, error) {
	return "", nil
}

const tokenExpiryMargin = 30 * time.Second

// NewCachingTokenFunc wraps a token resolver with an expiry-aware cache.
// A fetched jwt is re-used until its `exp` claim (parsed unverified) is
// within the expiry margin. Tokens without a parseable expiry are not
// cached.
func NewCachingTokenFunc(resolve TokenFunc) TokenFunc {
	var mutex sync.Mutex
	var token string
	var expiresAt time.Time

	return func(ctx context.Context) (string, error) {
		mutex.Lock()
		defer mutex.Unlock()

		if token != "" && time.Now().Add(tokenExpiryMargin).Before(expiresAt) {
			return token, nil
		}

		next, err := resolve(ctx)
		if err != nil {
			return "", err
		}

		token = ""
		expiresAt = time.Time{}
		if e, ok := tokenExpiry(next); ok {
			token = next
			expiresAt = e
		}
		return next, nil
	}
}

func tokenExpiry(token string) (time.Time, bool) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	expiresAt, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return time.Time{}, false
	}
	return expiresAt.Time, true
}
