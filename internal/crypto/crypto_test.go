package crypto

import "testing"

func TestSessionDerivationIsSymmetric(t *testing.T) {
	a, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	b, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}

	keyA, err := DeriveSession(a.Secret, b.Public)
	if err != nil {
		t.Fatalf("DeriveSession(a,b): %v", err)
	}
	keyB, err := DeriveSession(b.Secret, a.Public)
	if err != nil {
		t.Fatalf("DeriveSession(b,a): %v", err)
	}

	if keyA != keyB {
		t.Error("session keys derived by each side do not match")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	a, _ := GenerateEphemeralKeyPair()
	b, _ := GenerateEphemeralKeyPair()
	keyA, _ := DeriveSession(a.Secret, b.Public)
	keyB, _ := DeriveSession(b.Secret, a.Public)

	plaintext := []byte("the quick brown fox")
	ciphertext, err := Encrypt(keyA, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(keyB, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("round trip got %q, want %q", got, plaintext)
	}
}

func TestDecryptFailsUnderWrongKey(t *testing.T) {
	a, _ := GenerateEphemeralKeyPair()
	b, _ := GenerateEphemeralKeyPair()
	c, _ := GenerateEphemeralKeyPair()

	keyA, _ := DeriveSession(a.Secret, b.Public)
	wrongKey, _ := DeriveSession(c.Secret, a.Public)

	ciphertext, err := Encrypt(keyA, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(wrongKey, ciphertext); err != ErrAuthFailure {
		t.Errorf("Decrypt under wrong key = %v, want ErrAuthFailure", err)
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	var key [KeySize]byte
	if _, err := Decrypt(key, []byte("short")); err != ErrInvalidCiphertext {
		t.Errorf("Decrypt(short) = %v, want ErrInvalidCiphertext", err)
	}
}

func TestDecryptRejectsCorruptedTag(t *testing.T) {
	a, _ := GenerateEphemeralKeyPair()
	b, _ := GenerateEphemeralKeyPair()
	key, _ := DeriveSession(a.Secret, b.Public)

	ciphertext, err := Encrypt(key, []byte("tamper me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := Decrypt(key, ciphertext); err != ErrAuthFailure {
		t.Errorf("Decrypt(tampered) = %v, want ErrAuthFailure", err)
	}
}

func TestBroadcastKeyIsDeterministic(t *testing.T) {
	k1, err := DeriveBroadcastKey([]byte("mesh passphrase"), []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveBroadcastKey: %v", err)
	}
	k2, err := DeriveBroadcastKey([]byte("mesh passphrase"), []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveBroadcastKey: %v", err)
	}
	if k1 != k2 {
		t.Error("DeriveBroadcastKey is not deterministic for identical inputs")
	}
}
