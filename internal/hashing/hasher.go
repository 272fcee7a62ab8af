package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"attendance-service/internal/config"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const algorithmArgon2id = "argon2id"

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultParams() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  32,
		KeyLength:   32,
	}
}

// Hasher produces self-describing Argon2id password hashes mixed with a
// versioned server pepper. Encoded form:
//
//	argon2id$v=19$m=65536,t=3,p=2$k=1$<salt>$<key>
//
// where k is the pepper version (0 = no pepper).
type Hasher struct {
	params        Argon2Params
	peppers       map[int]string
	pepperVersion int

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(params Argon2Params, peppers map[int]string) *Hasher {
	h := &Hasher{
		params:  params,
		peppers: make(map[int]string, len(peppers)),
	}
	versions := make([]int, 0, len(peppers))
	for v, p := range peppers {
		h.peppers[v] = p
		versions = append(versions, v)
	}
	if len(versions) > 0 {
		sort.Ints(versions)
		h.pepperVersion = versions[len(versions)-1]
	}
	return h
}

func NewHasherFromConfig(cfg *config.Config) *Hasher {
	params := DefaultParams()
	if cfg.Hashing.Argon2MemoryCost > 0 {
		params.Memory = uint32(cfg.Hashing.Argon2MemoryCost)
	}
	if cfg.Hashing.Argon2TimeCost > 0 {
		params.Iterations = uint32(cfg.Hashing.Argon2TimeCost)
	}
	if cfg.Hashing.Argon2Parallelism > 0 {
		params.Parallelism = uint8(cfg.Hashing.Argon2Parallelism)
	}
	return NewHasher(params, cfg.Hashing.Peppers)
}

// HashPassword hashes with a fresh random salt and the newest pepper.
func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		h.peppered(password, h.peppers[h.pepperVersion]),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$k=%d$%s$%s",
		algorithmArgon2id,
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		h.pepperVersion,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks password against an encoded Argon2id hash or a
// legacy bcrypt hash. A mismatch returns (false, nil).
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt compare: %w", err)
		}
		return true, nil
	}

	params, pepperVersion, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	pepper := ""
	if pepperVersion != 0 {
		p, ok := h.peppers[pepperVersion]
		if !ok {
			return false, ErrUnknownPepper
		}
		pepper = p
	}

	computed := argon2.IDKey(
		h.peppered(password, pepper),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(key)),
	)

	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// DummyVerify burns one verification cycle for unknown accounts so response
// time does not reveal whether an email exists.
func (h *Hasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.HashPassword("dummy-password-for-timing")
	})
	if h.dummy != "" {
		_, _ = h.VerifyPassword(password, h.dummy)
	}
}

func (h *Hasher) peppered(password, pepper string) []byte {
	return []byte(password + pepper + "password")
}

func decode(encoded string) (Argon2Params, int, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != algorithmArgon2id {
		return params, 0, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, 0, nil, nil, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}

	pepperVersion, err := strconv.Atoi(strings.TrimPrefix(parts[3], "k="))
	if err != nil || !strings.HasPrefix(parts[3], "k=") {
		return params, 0, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, 0, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, 0, nil, nil, ErrInvalidHash
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))

	return params, pepperVersion, salt, key, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// NewToken returns a URL-safe encoding of 256 random bits.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the one-way digest persisted in place of a raw reset token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
