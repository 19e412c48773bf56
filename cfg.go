//  Copyright 2014-Present Couchbase, Inc.
//
//  Use of this software is governed by the Business Source License included
//  in the file licenses/BSL-Couchbase.txt.  As of the Change Date specified
//  in that file, in accordance with the Business Source License, use of this
//  software will be governed by the Apache License, Version 2.0, included in
//  the file licenses/APL2.txt.

package vbmap

import "time"

// Cfg is the storage abstraction every bucket-config and vbucket-map
// operation in this package is layered on. CfgGetBuckets/CfgSetMap/
// CfgCreateBucket and friends never touch a backend directly; they
// only ever Get/Set/Del a single JSON-encoded bucketsDoc through this
// interface, so a process can move from CfgMem in tests to CfgCB in
// production without the bucket-config layer changing at all.
type Cfg interface {
	// Get retrieves an entry from the Cfg.  A zero cas means don't do
	// a CAS match on Get(), and a non-zero cas value means the Get()
	// will succeed only if the CAS matches. The bucket-config layer's
	// CAS-retry loop (updateBucketsDoc) reads with a zero cas and
	// detects concurrent writers through Set's CAS check instead.
	Get(key string, cas uint64) (val []byte, casSuccess uint64, err error)

	// Set creates or updates an entry in the Cfg.  A non-zero cas
	// that does not match will result in an error.  A zero cas means
	// the Set() operation must be an entry creation, where a zero cas
	// Set() will error if the entry already exists.
	Set(key string, val []byte, cas uint64) (casSuccess uint64, err error)

	// Del removes an entry from the Cfg.  A non-zero cas that does
	// not match will result in an error.  A zero cas means a CAS
	// match will be skipped, so that clients can perform a
	// "don't-care, out-of-the-blue" deletion.
	Del(key string, cas uint64) error

	// Subscribe allows clients to receive events on changes to a key.
	// During a deletion event, the CfgEvent.CAS field will be 0.
	// rebalance.Rebalancer and rest/status.go's handlers never
	// subscribe directly; they poll CfgGetBucket/CfgGetBuckets, but
	// a process wiring in its own janitor or UI can use this to react
	// to a bucket's map or server list changing underneath it.
	Subscribe(key string, ch chan CfgEvent) error

	// Refresh forces the Cfg implementation to reload from its
	// backend-specific data source, clearing any locally cached data.
	// Any subscribers will receive events on a Refresh, where it's up
	// to subscribers to detect if there were actual changes or not.
	// CfgCB has no standing change feed of its own, so a caller that
	// wants to notice another process's bucket-config writes has to
	// call this (e.g. off a timer).
	Refresh() error
}

// CfgCASError is returned whenever a Cfg.Set or Cfg.Del's cas argument
// doesn't match the entry's current CAS -- the bucket-config CAS-retry
// loop type-asserts for this specifically to distinguish "someone else
// won the race, reload and retry" from a real storage failure.
type CfgCASError struct{}

func (e *CfgCASError) Error() string { return "CAS mismatch" }

// CfgEvent is delivered to a Cfg.Subscribe() channel whenever the
// subscribed key's bucketsDoc changes. Its CAS field is 0 on a
// deletion event.
type CfgEvent struct {
	Time  time.Time
	Key   string
	CAS   uint64
	Error error
}
