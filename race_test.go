// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build race

package orb

import (
	"strings"
	"testing"
)

// skipRace skips tests that move frames through the loopback reactors.
// The race detector tracks happens-before per variable and cannot see the
// SPSC queue's ordering between its slots and its indices.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: loopback SPSC uses cross-variable memory ordering")
}

// skipRaceLoopback calls skipRace for loopback endpoints.
func skipRaceLoopback(tb testing.TB, endpoint string) {
	tb.Helper()
	if strings.HasPrefix(endpoint, TransportLoopback+"://") {
		skipRace(tb)
	}
}
