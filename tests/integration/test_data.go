//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
)

var identitySeq atomic.Int64

// TestIdentity generates a unique (username, ip) pair per call so tests
// sharing one database never collide on scope keys.
func TestIdentity(suffix string) (username, ip string) {
	n := identitySeq.Add(1)
	username = fmt.Sprintf("user-%d-%s", n, suffix)
	ip = fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
	return
}
