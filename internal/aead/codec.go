// Package aead implements the streaming ChaCha20-IETF-Poly1305 codec used
// by the Shadowsocks-AEAD protocol (spec §4.4). It frames arbitrary
// plaintext into length-prefixed encrypted chunks on encode, and decodes
// the reverse direction from a byte stream on decode, with independent
// per-direction nonce counters.
//
// Grounded on shadowproxy2's parsers/aead.py and transport/aead.py, with
// the chunked length+payload framing cross-checked against
// outline-ss-server's shadowsocks/stream.go.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"shadowproxy/internal/xerrors"
)

const (
	KeySize      = 32
	SaltSize     = 32
	NonceSize    = 12
	TagSize      = 16
	PacketLimit  = 0x3FFF // 16383
	subkeyInfo   = "ss-subkey"
)

// DeriveSubkey expands a per-direction subkey from salt and the master key
// via HKDF-Extract/Expand with HMAC-SHA1 and info="ss-subkey" (spec §4.4
// "Per-direction subkey").
func DeriveSubkey(masterKey, salt []byte) ([]byte, error) {
	r := hkdf.New(newSHA1, masterKey, salt, []byte(subkeyInfo))
	subkey := make([]byte, KeySize)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return subkey, nil
}

// littleEndianNonce renders AEAD call index i as a 12-byte little-endian
// nonce (spec §4.4 "Nonce").
func littleEndianNonce(i uint64) []byte {
	n := make([]byte, NonceSize)
	binary.LittleEndian.PutUint64(n, i)
	return n
}

// Encrypter is one direction of an AEAD stream: it holds the AEAD
// instance built from the direction's subkey and a monotonic call counter
// (spec §3 "AEAD stream state").
type Encrypter struct {
	aead    cipher.AEAD
	counter uint64
}

// NewEncrypter derives the direction's AEAD instance from masterKey and a
// freshly generated salt; it returns the encrypter plus the salt so the
// caller can emit it once before the first frame.
func NewEncrypter(masterKey []byte) (*Encrypter, []byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	subkey, err := DeriveSubkey(masterKey, salt)
	if err != nil {
		return nil, nil, err
	}
	a, err := chacha20poly1305.New(subkey)
	if err != nil {
		return nil, nil, fmt.Errorf("new chacha20poly1305: %w", err)
	}
	return &Encrypter{aead: a}, salt, nil
}

// seal encrypts plaintext under the next nonce and advances the counter.
func (e *Encrypter) seal(plaintext []byte) []byte {
	nonce := littleEndianNonce(e.counter)
	e.counter++
	return e.aead.Seal(nil, nonce, plaintext, nil)
}

// EncodeFrame appends the encoding of one plaintext frame to dst: a
// length-component AEAD message followed by a payload-component AEAD
// message (spec §4.4 "Encode a plaintext frame"). Frames larger than
// PacketLimit are split left-to-right and recursively encoded.
func (e *Encrypter) EncodeFrame(dst []byte, plaintext []byte) []byte {
	if len(plaintext) > PacketLimit {
		dst = e.EncodeFrame(dst, plaintext[:PacketLimit])
		return e.EncodeFrame(dst, plaintext[PacketLimit:])
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(plaintext)))
	dst = append(dst, e.seal(lenBuf[:])...)
	dst = append(dst, e.seal(plaintext)...)
	return dst
}

// Decrypter is the receive half of an AEAD stream.
type Decrypter struct {
	aead    cipher.AEAD
	counter uint64
}

// NewDecrypter derives the direction's AEAD instance from masterKey and a
// peer-supplied salt (read off the wire by the caller).
func NewDecrypter(masterKey, salt []byte) (*Decrypter, error) {
	subkey, err := DeriveSubkey(masterKey, salt)
	if err != nil {
		return nil, err
	}
	a, err := chacha20poly1305.New(subkey)
	if err != nil {
		return nil, fmt.Errorf("new chacha20poly1305: %w", err)
	}
	return &Decrypter{aead: a}, nil
}

func (d *Decrypter) open(ciphertext []byte) ([]byte, error) {
	nonce := littleEndianNonce(d.counter)
	d.counter++
	pt, err := d.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindCrypto, "aead open", err)
	}
	return pt, nil
}

// DecodeFrame reads and decrypts exactly one frame (a length message
// followed by a payload message) from r, enforcing the packet-limit
// invariant on the decrypted length (spec §4.4 "Decode").
func (d *Decrypter) DecodeFrame(r io.Reader) ([]byte, error) {
	lenCipher := make([]byte, 2+d.aead.Overhead())
	if _, err := io.ReadFull(r, lenCipher); err != nil {
		return nil, wrapEOF(err)
	}
	lenPlain, err := d.open(lenCipher)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenPlain)
	if n != n&PacketLimit {
		return nil, xerrors.New(xerrors.KindCrypto, "decode frame", xerrors.ErrFrameTooLarge)
	}
	payloadCipher := make([]byte, int(n)+d.aead.Overhead())
	if _, err := io.ReadFull(r, payloadCipher); err != nil {
		return nil, wrapEOF(err)
	}
	return d.open(payloadCipher)
}

func wrapEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
