// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package signature computes the stable error signature that keys the
// knowledge base and groups FixAttempt history.
package signature

import (
	"crypto/md5"
	"encoding/hex"
)

// ErrorSignature returns a deterministic, opaque token for the triple
// (kind, message, firstStackFrame). It is not a normalization: callers
// must not lowercase or trim the inputs, since two signatures differing
// only by case or whitespace are, by design, distinct signatures.
func ErrorSignature(kind, message, firstStackFrame string) string {
	sum := md5.Sum([]byte(kind + ":" + message + ":" + firstStackFrame))
	return hex.EncodeToString(sum[:])
}
