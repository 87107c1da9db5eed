// Package dblock serialises database-backed tests across packages. go test
// runs packages in parallel and they all truncate the same tables.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the lock and returns its release
// func. Without DATABASE_URL every DB test skips, so there is nothing to guard.
func Acquire() func() {
	if os.Getenv("DATABASE_URL") == "" {
		return func() {}
	}
	addr := os.Getenv("SETTLEMENT_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
