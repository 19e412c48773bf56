//  Copyright (c) 2014 Couchbase, Inc.
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the
//  License. You may obtain a copy of the License at
//    http://www.apache.org/licenses/LICENSE-2.0
//  Unless required by applicable law or agreed to in writing,
//  software distributed under the License is distributed on an "AS
//  IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
//  express or implied. See the License for the specific language
//  governing permissions and limitations under the License.

package vbmap

import (
	"sync"

	"github.com/couchbase/go-couchbase"
)

// CfgCB is a Cfg implementation backed by a single document in a
// couchbase bucket. Unlike a DCP-subscribed Cfg, it has no standing
// feed of change notifications; callers that need cross-process
// change events must call Refresh() themselves (e.g. on a timer) to
// pick up writes made by other processes and fire local subscribers.
type CfgCB struct {
	m      sync.Mutex
	urlStr string
	bucket string
	b      *couchbase.Bucket
	cfgKey string

	subscriptions map[string][]chan<- CfgEvent
	lastSeen      *CfgMem
}

// NewCfgCB returns a Cfg implementation that reads/writes its entries
// from/to a single document ("cfg") in the named couchbase bucket.
func NewCfgCB(urlStr, bucket string) (*CfgCB, error) {
	c := &CfgCB{
		urlStr:        urlStr,
		bucket:        bucket,
		cfgKey:        "cfg",
		subscriptions: make(map[string][]chan<- CfgEvent),
	}

	if _, err := c.getBucket(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *CfgCB) getBucket() (*couchbase.Bucket, error) {
	if c.b == nil {
		b, err := couchbase.GetBucket(c.urlStr, "default", c.bucket)
		if err != nil {
			return nil, err
		}
		c.b = b
	}
	return c.b, nil
}

func (c *CfgCB) loadLocked() (*CfgMem, uint64, error) {
	bucket, err := c.getBucket()
	if err != nil {
		return nil, 0, err
	}

	cfgBuf, _, cfgCAS, err := bucket.GetsRaw(c.cfgKey)
	if err != nil {
		if isKeyNotFound(err) {
			return NewCfgMem(), 0, nil
		}
		return nil, 0, err
	}

	cfgMem := NewCfgMem()
	if cfgBuf != nil {
		if err := UnmarshalJSON(cfgBuf, cfgMem); err != nil {
			return nil, 0, err
		}
	}

	return cfgMem, cfgCAS, nil
}

func (c *CfgCB) Get(key string, cas uint64) ([]byte, uint64, error) {
	c.m.Lock()
	defer c.m.Unlock()

	cfgMem, cfgCAS, err := c.loadLocked()
	if err != nil {
		return nil, 0, err
	}

	if cas != 0 && cas != cfgCAS {
		return nil, 0, &CfgCASError{}
	}

	val, _, err := cfgMem.Get(key, 0)
	if err != nil {
		return nil, 0, err
	}

	return val, cfgCAS, nil
}

func (c *CfgCB) Set(key string, val []byte, cas uint64) (uint64, error) {
	c.m.Lock()
	defer c.m.Unlock()

	cfgMem, cfgCAS, err := c.loadLocked()
	if err != nil {
		return 0, err
	}

	if cas != 0 && cas != cfgCAS {
		return 0, &CfgCASError{}
	}

	if _, err := cfgMem.Set(key, val, CFG_CAS_FORCE); err != nil {
		return 0, err
	}

	bucket, err := c.getBucket()
	if err != nil {
		return 0, err
	}

	nextCAS, err := bucket.Cas(c.cfgKey, 0, cfgCAS, cfgMem)
	if err != nil {
		return 0, err
	}

	c.fireEventLocked(key, nextCAS, nil)
	return nextCAS, nil
}

func (c *CfgCB) Del(key string, cas uint64) error {
	c.m.Lock()
	defer c.m.Unlock()

	cfgMem, cfgCAS, err := c.loadLocked()
	if err != nil {
		return err
	}

	if cas != 0 && cas != cfgCAS {
		return &CfgCASError{}
	}

	if err := cfgMem.Del(key, 0); err != nil {
		return err
	}

	bucket, err := c.getBucket()
	if err != nil {
		return err
	}

	nextCAS, err := bucket.Cas(c.cfgKey, 0, cfgCAS, cfgMem)
	if err != nil {
		return err
	}

	c.fireEventLocked(key, nextCAS, nil)
	return nil
}

func (c *CfgCB) Subscribe(key string, ch chan CfgEvent) error {
	c.m.Lock()
	defer c.m.Unlock()

	c.subscriptions[key] = append(c.subscriptions[key], ch)
	return nil
}

func (c *CfgCB) fireEventLocked(key string, cas uint64, err error) {
	for _, ch := range c.subscriptions[key] {
		go func(ch chan<- CfgEvent) {
			ch <- CfgEvent{Key: key, CAS: cas, Error: err}
		}(ch)
	}
}

// Refresh reloads the document from the bucket and fires subscriber
// events for every subscribed key whose value or existence changed
// since the last Refresh (or since construction). When no key changed
// at all, every subscribed key gets an event.
func (c *CfgCB) Refresh() error {
	c.m.Lock()
	defer c.m.Unlock()

	cfgMem, cfgCAS, err := c.loadLocked()
	if err != nil {
		return err
	}

	prev := c.lastSeen
	c.lastSeen = cfgMem

	changed := map[string]bool{}
	if prev != nil {
		for k, e := range prev.Entries {
			if cur, ok := cfgMem.Entries[k]; !ok || cur.CAS != e.CAS {
				changed[k] = true
			}
		}
	}
	for k := range cfgMem.Entries {
		if prev == nil {
			changed[k] = true
			continue
		}
		if _, ok := prev.Entries[k]; !ok {
			changed[k] = true
		}
	}

	for key := range c.subscriptions {
		if len(changed) == 0 || changed[key] {
			c.fireEventLocked(key, cfgCAS, nil)
		}
	}

	return nil
}

func isKeyNotFound(err error) bool {
	return err != nil && err.Error() == "Not Found"
}
