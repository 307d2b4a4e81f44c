package hashing

import (
	"crypto/hmac"
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

	"bank-service/internal/config"
	"bank-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const algorithm = "argon2id-v1"

// Hash contexts keep a PIN hash from ever verifying as a security answer.
const (
	contextPIN    = "pin"
	contextAnswer = "security-answer"
	contextLookup = "lookup"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes PINs and security answers with argon2id and a versioned
// pepper. Peppers come from configuration; the highest version is used for new
// hashes and older versions stay valid for verification.
type Hasher struct {
	params         Argon2Params
	peppers        map[int]string
	currentVersion int
	lookupKey      []byte
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	if len(cfg.Hashing.Peppers) == 0 {
		return nil, fmt.Errorf("%w: no peppers configured", ErrUnknownPepper)
	}

	versions := make([]int, 0, len(cfg.Hashing.Peppers))
	for v := range cfg.Hashing.Peppers {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		peppers:        cfg.Hashing.Peppers,
		currentVersion: versions[len(versions)-1],
		// Lookup digests must survive pepper rotation, so they use the oldest one.
		lookupKey: []byte(cfg.Hashing.Peppers[versions[0]]),
	}

	util.Info("Hasher initialized",
		zap.Int("pepper_version", h.currentVersion),
		zap.Int("pepper_count", len(versions)),
	)
	return h, nil
}

func (h *Hasher) HashPIN(pin string) (*HashResult, error) {
	return h.hashWithPepper(pin, contextPIN)
}

func (h *Hasher) VerifyPIN(pin, encoded string) (bool, error) {
	result, err := ParseHashResult(encoded)
	if err != nil {
		return false, err
	}
	return h.verifyWithPepper(pin, result, contextPIN)
}

// HashSecurityAnswer normalizes case and surrounding space before hashing.
func (h *Hasher) HashSecurityAnswer(answer string) (*HashResult, error) {
	return h.hashWithPepper(normalizeAnswer(answer), contextAnswer)
}

func (h *Hasher) VerifySecurityAnswer(answer, encoded string) (bool, error) {
	result, err := ParseHashResult(encoded)
	if err != nil {
		return false, err
	}
	return h.verifyWithPepper(normalizeAnswer(answer), result, contextAnswer)
}

// LookupDigest is a deterministic keyed digest used for uniqueness indexes on
// identifiers that are stored encrypted.
func (h *Hasher) LookupDigest(value string) string {
	mac := hmac.New(sha256.New, h.lookupKey)
	mac.Write([]byte(contextLookup))
	mac.Write([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

// NeedsRehash reports whether an encoded hash was made with an older pepper.
func (h *Hasher) NeedsRehash(encoded string) bool {
	result, err := ParseHashResult(encoded)
	if err != nil {
		return true
	}
	return result.PepperVersion != h.currentVersion
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	pepper := h.peppers[h.currentVersion]
	hash := argon2.IDKey(
		[]byte(data+pepper+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: h.currentVersion,
		Algorithm:     algorithm,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	if hashResult.Algorithm != algorithm {
		return false, ErrIncompatibleVersion
	}
	pepper, ok := h.peppers[hashResult.PepperVersion]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownPepper, hashResult.PepperVersion)
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(data+pepper+context),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

// Encode packs the result into the single string stored on the account:
// algorithm$pepper_version$salt$hash.
func (r *HashResult) Encode() string {
	return strings.Join([]string{r.Algorithm, strconv.Itoa(r.PepperVersion), r.Salt, r.Hash}, "$")
}

func ParseHashResult(encoded string) (*HashResult, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		return nil, ErrInvalidHash
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrInvalidHash
	}
	return &HashResult{
		Algorithm:     parts[0],
		PepperVersion: version,
		Salt:          parts[2],
		Hash:          parts[3],
	}, nil
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
