package services

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// SessionService issues opaque bearer tokens bound to an account id and
// an expiry. Tokens are recorded in Redis with a TTL when Redis is
// available; otherwise an in-process table is used, following the same
// degrade-gracefully convention as the rest of the service.
//
// A session is Active from issuance until expiry, then Expired. Logout
// deletes the record; there is no other revocation path, so a token the
// client merely discards stays valid until natural expiry.
type SessionService struct {
	redis *redis.Client

	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	accountID int64
	expiresAt time.Time
}

func NewSessionService(redisClient *redis.Client) *SessionService {
	viper.SetDefault("session.ttl", 24*time.Hour)
	if redisClient == nil {
		log.Println("[SESSION] Redis unavailable, using in-memory session store")
	}
	return &SessionService{
		redis:    redisClient,
		sessions: make(map[string]memorySession),
	}
}

// Issue generates a cryptographically random token and records it
// against the account with the configured TTL.
func (s *SessionService) Issue(ctx context.Context, accountID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := cryptorand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	ttl := viper.GetDuration("session.ttl")

	if s.redis != nil {
		key := fmt.Sprintf("session:%s", token)
		if err := s.redis.Set(ctx, key, strconv.FormatInt(accountID, 10), ttl).Err(); err != nil {
			return "", fmt.Errorf("store session: %w", err)
		}
		return token, nil
	}

	s.mu.Lock()
	s.sessions[token] = memorySession{accountID: accountID, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

// Resolve returns the account id a token is bound to. Unknown and
// expired tokens fail with ErrUnauthenticated; store failures surface as
// errors rather than letting a request through.
func (s *SessionService) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthenticated
	}

	if s.redis != nil {
		key := fmt.Sprintf("session:%s", token)
		val, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, ErrUnauthenticated
			}
			return 0, fmt.Errorf("resolve session: %w", err)
		}
		accountID, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, ErrUnauthenticated
		}
		return accountID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return 0, ErrUnauthenticated
	}
	if time.Now().After(session.expiresAt) {
		delete(s.sessions, token)
		return 0, ErrUnauthenticated
	}
	return session.accountID, nil
}

// Revoke deletes a session record. Used by logout; missing tokens are
// not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if s.redis != nil {
		key := fmt.Sprintf("session:%s", token)
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}
