package security

import (
	"crypto/rand"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the one-way password primitive used by the credential store.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) bool
	// CompareDummy costs as much as Compare but matches nothing.
	CompareDummy(password string)
}

type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a bcrypt hasher. A cost outside bcrypt's range falls back
// to bcrypt.DefaultCost.
func NewHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// CompareDummy is used when the user does not exist so the response time
// does not leak that.
func (h *BcryptHasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		secret := make([]byte, 16)
		_, _ = rand.Read(secret)
		h.dummy, _ = bcrypt.GenerateFromPassword(secret, h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// ValidatePassword enforces the minimum policy. bcrypt ignores everything past
// 72 bytes, so longer passwords are refused rather than silently truncated.
func ValidatePassword(password string) bool {
	return len(password) >= 3 && len(password) <= 72
}
