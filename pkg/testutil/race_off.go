// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !race

package testutil

// RaceEnabled reports whether the binary was built with -race, so tests
// can scale down iteration counts (the race detector is roughly an order
// of magnitude slower).
const RaceEnabled = false
