package aead

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	masterKey := DeriveMasterKey("test", KeySize)

	enc, salt, err := NewEncrypter(masterKey)
	if err != nil {
		t.Fatalf("NewEncrypter: %v", err)
	}
	dec, err := NewDecrypter(masterKey, salt)
	if err != nil {
		t.Fatalf("NewDecrypter: %v", err)
	}

	plaintext := []byte("hello")
	ciphertext := enc.EncodeFrame(nil, plaintext)

	// §8 scenario 4: 2+16 (length) + 5+16 (payload) = 39 bytes, counter at 2.
	if len(ciphertext) != 39 {
		t.Fatalf("expected 39 ciphertext bytes, got %d", len(ciphertext))
	}
	if enc.counter != 2 {
		t.Fatalf("expected encrypt counter 2, got %d", enc.counter)
	}

	got, err := dec.DecodeFrame(bytes.NewReader(ciphertext))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
	if dec.counter != 2 {
		t.Fatalf("expected decrypt counter 2, got %d", dec.counter)
	}
}

func TestDecodeTruncatedStreamFails(t *testing.T) {
	masterKey := DeriveMasterKey("test", KeySize)
	enc, salt, err := NewEncrypter(masterKey)
	if err != nil {
		t.Fatalf("NewEncrypter: %v", err)
	}
	dec, err := NewDecrypter(masterKey, salt)
	if err != nil {
		t.Fatalf("NewDecrypter: %v", err)
	}

	ciphertext := enc.EncodeFrame(nil, []byte("hello world"))
	truncated := ciphertext[:len(ciphertext)-5]

	if _, err := dec.DecodeFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected an error decoding a truncated frame, got nil")
	}
}

func TestLargeFrameSplitsAtPacketLimit(t *testing.T) {
	masterKey := DeriveMasterKey("secret", KeySize)
	enc, salt, err := NewEncrypter(masterKey)
	if err != nil {
		t.Fatalf("NewEncrypter: %v", err)
	}
	dec, err := NewDecrypter(masterKey, salt)
	if err != nil {
		t.Fatalf("NewDecrypter: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0x42}, PacketLimit+100)
	ciphertext := enc.EncodeFrame(nil, plaintext)

	r := bytes.NewReader(ciphertext)
	first, err := dec.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame first: %v", err)
	}
	second, err := dec.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame second: %v", err)
	}
	got := append(append([]byte{}, first...), second...)
	if !bytes.Equal(got, plaintext) {
		t.Fatal("roundtrip mismatch across split frames")
	}
}
