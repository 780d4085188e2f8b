// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if YFEED_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on loopback TCP, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("YFEED_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: YFEED_TEST_SKIP_NETWORK is set")
	}
}

// RedisAddr returns YFEED_TEST_REDIS_ADDR or skips the test when it is unset.
func RedisAddr(t *testing.T) string {
	t.Helper()
	SkipIfNoNetwork(t)
	addr := os.Getenv("YFEED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("YFEED_TEST_REDIS_ADDR not set")
	}
	return addr
}
