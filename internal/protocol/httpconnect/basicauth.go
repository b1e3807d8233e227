package httpconnect

import (
	"encoding/base64"
	"strings"
)

func encodeBasic(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func decodeBasic(encoded string) (user, pass string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	cred := string(raw)
	idx := strings.IndexByte(cred, ':')
	if idx < 0 {
		return "", "", false
	}
	return cred[:idx], cred[idx+1:], true
}
