package aead

import (
	"crypto/sha1" //nolint:gosec // HKDF-SHA1 is the mandated subkey KDF for this cipher suite, matching mainline Shadowsocks-AEAD (spec §4.4)
	"hash"
)

func newSHA1() hash.Hash {
	return sha1.New()
}
