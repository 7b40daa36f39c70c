// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Modifications (c) 2026 The KMA Authors.

package kma

import "errors"

// ErrOOM is returned by Malloc/UnsafeMalloc when the page provider refuses
// to hand out another page, or when a request exceeds the largest
// supported size class and the active policy has no escape hatch for it.
var ErrOOM = errors.New("kma: out of memory")

// ErrInvalidClass is returned when the header codec decodes a class size
// of zero. A buffer can never legitimately carry class size 0 (§4.2).
var ErrInvalidClass = errors.New("kma: invalid class size in header")

// ErrClosed is returned by operations attempted on an Allocator after
// Close has released its pool.
var ErrClosed = errors.New("kma: allocator is closed")
