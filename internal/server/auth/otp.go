package auth

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
)

// DefaultOTPMaxAttempts is how many wrong codes an entry tolerates before it
// is discarded.
const DefaultOTPMaxAttempts = 5

type otpEntry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// OTPStore keeps short-lived numeric codes keyed by normalised email.
// It is safe for concurrent use.
type OTPStore struct {
	mu          sync.Mutex
	entries     map[string]*otpEntry
	ttl         time.Duration
	length      int
	maxAttempts int
	now         func() time.Time
}

// OTPOption customises an OTPStore.
type OTPOption func(*OTPStore)

// WithOTPClock replaces time.Now, for tests.
func WithOTPClock(now func() time.Time) OTPOption {
	return func(s *OTPStore) { s.now = now }
}

// WithOTPMaxAttempts overrides DefaultOTPMaxAttempts.
func WithOTPMaxAttempts(n int) OTPOption {
	return func(s *OTPStore) { s.maxAttempts = n }
}

// NewOTPStore returns a store issuing codes of length digits valid for ttl.
func NewOTPStore(ttl time.Duration, length int, opts ...OTPOption) *OTPStore {
	s := &OTPStore{
		entries:     make(map[string]*otpEntry),
		ttl:         ttl,
		length:      length,
		maxAttempts: DefaultOTPMaxAttempts,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue creates a fresh code for email, replacing any previous one.
func (s *OTPStore) Issue(email string) (string, error) {
	code, err := common.RandomDigits(s.length)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[common.NormalizeEmail(email)] = &otpEntry{
		code:      code,
		expiresAt: s.now().Add(s.ttl),
	}
	return code, nil
}

// Verify checks code for email without consuming it.
func (s *OTPStore) Verify(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.check(common.NormalizeEmail(email), code)
	return err
}

// Consume checks code for email and, on success, removes it so it cannot be
// used again.
func (s *OTPStore) Consume(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := common.NormalizeEmail(email)
	if _, err := s.check(key, code); err != nil {
		return err
	}
	delete(s.entries, key)
	return nil
}

// check must be called with mu held.
func (s *OTPStore) check(key, code string) (*otpEntry, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, common.ErrOTPInvalid
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, common.ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		e.attempts++
		if e.attempts >= s.maxAttempts {
			delete(s.entries, key)
		}
		return nil, common.ErrOTPInvalid
	}
	return e, nil
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (s *OTPStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	n := 0
	for k, e := range s.entries {
		if !t.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *OTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
