//  Copyright 2014-Present Couchbase, Inc.
//
//  Use of this software is governed by the Business Source License included
//  in the file licenses/BSL-Couchbase.txt.  As of the Change Date specified
//  in that file, in accordance with the Business Source License, use of this
//  software will be governed by the Apache License, Version 2.0, included in
//  the file licenses/APL2.txt.

package vbmap

import "runtime"

// WorkerCount returns how many workers a scatter/gather pool should
// use for itemCount items: never more than runtime.NumCPU(), never more
// than itemCount itself.
func WorkerCount(itemCount int) int {
	ncpu := runtime.NumCPU()
	if itemCount < ncpu {
		return itemCount
	}
	return ncpu
}
