package chainkey

import (
	"bytes"
	"testing"
)

func TestKeyPairFromSecretDeterministic(t *testing.T) {
	var secret [SecretKeySize]byte
	for i := range secret {
		secret[i] = 0x42
	}

	a, err := KeyPairFromSecret(secret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}
	b, err := KeyPairFromSecret(secret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}
	if a.Public != b.Public {
		t.Fatal("the same secret seed must always derive the same public key")
	}

	var other [SecretKeySize]byte
	for i := range other {
		other[i] = 0x43
	}
	c, err := KeyPairFromSecret(other)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}
	if a.Public == c.Public {
		t.Fatal("different secret seeds must derive different public keys")
	}
}

func TestSignAndVerify(t *testing.T) {
	var secret [SecretKeySize]byte
	secret[0] = 1
	kp, err := KeyPairFromSecret(secret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}

	msg := []byte("the chain moves forward one block at a time")
	sig := kp.Sign(msg)
	if !Verify(kp.Public, msg, sig) {
		t.Fatal("expected signature to verify against the signing key")
	}
	if Verify(kp.Public, []byte("a different message"), sig) {
		t.Fatal("signature must not verify against a different message")
	}

	var otherSecret [SecretKeySize]byte
	otherSecret[0] = 2
	otherKp, err := KeyPairFromSecret(otherSecret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}
	if Verify(otherKp.Public, msg, sig) {
		t.Fatal("signature must not verify against an unrelated public key")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Fatal("identical byte slices should compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Fatal("differing byte slices should not compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("ab")) {
		t.Fatal("byte slices of different length should not compare equal")
	}
}

func TestHashOptionalDataNilVsEmptyDiffer(t *testing.T) {
	nilHash := HashOptionalData(nil)
	emptyHash := HashOptionalData([]byte{})
	if nilHash == emptyHash {
		t.Fatal("a nil data field must hash to a sentinel distinct from an empty (but present) payload")
	}
	if nilHash != HashOptionalData(nil) {
		t.Fatal("the nil-data sentinel must be stable across calls")
	}
	if emptyHash != HashBytes([]byte{}) {
		t.Fatal("an empty but present payload should hash like any other byte slice")
	}
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	var secret [SecretKeySize]byte
	secret[0] = 7
	kp, err := KeyPairFromSecret(secret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}

	encoded := kp.Public.String()
	decoded, err := PublicKeyFromHex(encoded)
	if err != nil {
		t.Fatalf("decoding hex address: %s", err)
	}
	if decoded != kp.Public {
		t.Fatal("round tripping a public key through its hex form should be lossless")
	}
}

func TestPublicKeyFromHexRejectsMalformedInput(t *testing.T) {
	valid := bytes.Repeat([]byte("ab"), PublicKeySize)

	if _, err := PublicKeyFromHex(string(valid[:len(valid)-1])); err == nil {
		t.Fatal("odd-length hex string should be rejected")
	}
	if _, err := PublicKeyFromHex("zz" + string(valid[2:])); err == nil {
		t.Fatal("non-hex characters should be rejected")
	}
	if _, err := PublicKeyFromHex(string(valid) + "ab"); err == nil {
		t.Fatal("hex string decoding to more than PublicKeySize bytes should be rejected")
	}
	if _, err := PublicKeyFromHex("abcd"); err == nil {
		t.Fatal("hex string decoding to fewer than PublicKeySize bytes should be rejected")
	}
}
