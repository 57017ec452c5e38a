// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash computes the content-addressed identifiers the corpus
// (§4.6) uses to deduplicate inputs across fuzzer instances without
// comparing full program text.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
)

// Sig is a content hash, used as a corpus dedup key and as a stable
// identifier when persisting a program to the corpus directory.
type Sig [sha1.Size]byte

func (s Sig) String() string {
	return hex.EncodeToString(s[:])
}

// Hash combines all of data into a single signature, in order.
func Hash(data ...[]byte) Sig {
	h := sha1.New()
	for _, d := range data {
		h.Write(d)
	}
	var s Sig
	copy(s[:], h.Sum(nil))
	return s
}

// String is a convenience wrapper returning the hex digest directly.
func String(data ...[]byte) string {
	return Hash(data...).String()
}
