package aead

import "crypto/md5" //nolint:gosec // required for the legacy EVP_BytesToKey derivation, not used as a security primitive on its own

// DeriveMasterKey implements OpenSSL's legacy EVP_BytesToKey key
// derivation with MD5 digest and no salt, exactly as mainline Shadowsocks
// derives its master key from a password (spec §4.4 "Master key"). There
// is no ecosystem package in the pack implementing this — it is five lines
// of repeated digest concatenation — so it is written directly against
// crypto/md5 and documented here as the one deliberate stdlib-only leaf
// (see DESIGN.md).
func DeriveMasterKey(password string, keyLen int) []byte {
	var (
		out  []byte
		prev []byte
	)
	for len(out) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(password))
		sum := h.Sum(nil)
		out = append(out, sum...)
		prev = sum
	}
	return out[:keyLen]
}
