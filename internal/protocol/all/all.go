// Package all blank-imports every protocol dialect so that importing it
// once from cmd/shadowproxy populates the protocol package's dispatch
// tables (spec §9 "Dispatch by enum"), the same registration-by-import
// pattern database/sql drivers use.
package all

import (
	_ "shadowproxy/internal/protocol/httpconnect"
	_ "shadowproxy/internal/protocol/shadowsocks"
	_ "shadowproxy/internal/protocol/socks4"
	_ "shadowproxy/internal/protocol/socks5"
	_ "shadowproxy/internal/protocol/trojan"
)
