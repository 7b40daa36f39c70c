// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Modifications (c) 2026 The KMA Authors.

package kma

import "github.com/golang/glog"

// traceLevel gates the verbosity at which allocator-internal events are
// logged. Callers running with -v=2 or higher see pool init, page grow,
// page reclaim and pool teardown, each engine alloc and free, and BUD
// large allocations; individual carve, split and coalesce steps are not
// logged. This is the generalized successor of the teacher's own
// trace-gated fmt.Fprintf debug prints.
const traceLevel glog.Level = 2

func tracef(format string, args ...interface{}) {
	if glog.V(traceLevel) {
		glog.Infof(format, args...)
	}
}
