// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !race

package orb

import "testing"

func skipRace(testing.TB) {}

func skipRaceLoopback(testing.TB, string) {}
