package crypto

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func testEncryptor(t *testing.T, seed byte) *AESEncryptor {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{seed}, 32))
	enc, err := NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestNewAESEncryptor(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)), false},
		{"empty", "", true},
		{"not base64", "not-valid-base64!!!", true},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"too long", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 48)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tc.key)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewAESEncryptor(%q) err = %v, wantErr %v", tc.key, err, tc.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := testEncryptor(t, 1)
	cases := []struct {
		name      string
		plaintext string
	}{
		{"access token", "hexvalue0123456789abcdef"},
		{"refresh token", "v1.MjAyNi0wOC0zMFQxMjowMDowMFo"},
		{"unicode", "tökén-∆"},
		{"long", strings.Repeat("a", 4096)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := enc.Encrypt([]byte(tc.plaintext))
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			pt, err := enc.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if string(pt) != tc.plaintext {
				t.Fatalf("round trip changed value: got %q", pt)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc := testEncryptor(t, 1)
	a, err := enc.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := enc.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of one plaintext must not repeat")
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	enc := testEncryptor(t, 1)
	if _, err := enc.Encrypt(nil); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
}

func TestDecryptRejectsBadCiphertext(t *testing.T) {
	enc := testEncryptor(t, 1)
	valid, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), valid...)
	tampered[len(tampered)-1] ^= 0xff

	cases := []struct {
		name       string
		ciphertext []byte
	}{
		{"empty", nil},
		{"shorter than nonce", valid[:4]},
		{"tampered tag", tampered},
		{"garbage", []byte("definitely not ciphertext")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tc.ciphertext); err == nil {
				t.Fatal("expected decrypt error")
			}
		})
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	ct, err := testEncryptor(t, 1).Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := testEncryptor(t, 2).Decrypt(ct); err == nil {
		t.Fatal("decrypting under another key must fail")
	}
}

func TestStringHelpersRoundTrip(t *testing.T) {
	enc := testEncryptor(t, 1)
	stored, err := EncryptString(enc, "twitch-access-token")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if stored == "" || stored == "twitch-access-token" {
		t.Fatalf("ciphertext not produced: %q", stored)
	}
	got, err := DecryptString(enc, stored)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != "twitch-access-token" {
		t.Fatalf("round trip changed value: %q", got)
	}
}

func TestStringHelpersEmptyPassthrough(t *testing.T) {
	// Accounts without a refresh token store the empty string as-is.
	enc := testEncryptor(t, 1)
	if s, err := EncryptString(enc, ""); err != nil || s != "" {
		t.Fatalf("EncryptString(\"\") = %q, %v", s, err)
	}
	if s, err := DecryptString(enc, ""); err != nil || s != "" {
		t.Fatalf("DecryptString(\"\") = %q, %v", s, err)
	}
}

func TestDecryptStringRejectsBadBase64(t *testing.T) {
	enc := testEncryptor(t, 1)
	if _, err := DecryptString(enc, "%%% not base64 %%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
