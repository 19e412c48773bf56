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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const bucketsKey = "buckets"

var (
	ErrBucketNotFound    = errors.New("vbmap: bucket not found")
	ErrInvalidBucketName = errors.New("vbmap: invalid bucket name")
	ErrPortConflict      = errors.New("vbmap: port conflict")
)

var bucketNameRE = regexp.MustCompile(`^[A-Za-z0-9._%-]+$`)

// ValidateBucketName enforces the bucket-name rule: the name must
// match [A-Za-z0-9._%-]+ and must not be "." or "..".
func ValidateBucketName(name string) error {
	if name == "." || name == ".." || !bucketNameRE.MatchString(name) {
		return ErrInvalidBucketName
	}
	return nil
}

// bucketsDoc is the wire shape stored under bucketsKey: a list of
// bucket definitions plus the reserved ports every bucket must avoid
// colliding on.
type bucketsDoc struct {
	Configs       []*BucketDef `json:"configs"`
	MemcachedPort int          `json:"memcachedPort,omitempty"`
	MoxiPort      int          `json:"moxiPort,omitempty"`
	AdminWebPort  int          `json:"adminWebPort,omitempty"`
}

func loadBucketsDoc(cfg Cfg) (*bucketsDoc, uint64, error) {
	val, cas, err := cfg.Get(bucketsKey, 0)
	if err != nil {
		return nil, 0, err
	}
	doc := &bucketsDoc{}
	if val != nil {
		if err := json.Unmarshal(val, doc); err != nil {
			return nil, 0, fmt.Errorf("vbmap: parsing buckets doc: %w", err)
		}
	}
	return doc, cas, nil
}

// updateBucketsDoc runs fn against the current bucketsDoc and writes
// the result back under a CAS loop, matching the Cfg contract's
// update-via-fn convention (cfg.go's Set semantics).
func updateBucketsDoc(cfg Cfg, fn func(*bucketsDoc) error) error {
	for {
		doc, cas, err := loadBucketsDoc(cfg)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		val, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = cfg.Set(bucketsKey, val, cas)
		if err == nil {
			return nil
		}
		if _, ok := err.(*CfgCASError); ok {
			continue
		}
		return err
	}
}

// CfgGetBuckets returns every bucket definition currently in the
// config store.
func CfgGetBuckets(cfg Cfg) ([]*BucketDef, error) {
	doc, _, err := loadBucketsDoc(cfg)
	if err != nil {
		return nil, err
	}
	return doc.Configs, nil
}

// CfgGetBucket returns a single bucket definition by name.
func CfgGetBucket(cfg Cfg, name string) (*BucketDef, error) {
	buckets, err := CfgGetBuckets(cfg)
	if err != nil {
		return nil, err
	}
	for _, b := range buckets {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, ErrBucketNotFound
}

func findBucketLocked(doc *bucketsDoc, name string) (int, error) {
	for i, b := range doc.Configs {
		if b.Name == name {
			return i, nil
		}
	}
	return -1, ErrBucketNotFound
}

// CfgSetMap commits a new vbucket map for an existing bucket.
func CfgSetMap(cfg Cfg, name string, m VBucketMap) error {
	return updateBucketsDoc(cfg, func(doc *bucketsDoc) error {
		i, err := findBucketLocked(doc, name)
		if err != nil {
			return err
		}
		doc.Configs[i].Map = m
		return nil
	})
}

// CfgSetServers commits a new servers list for an existing bucket.
func CfgSetServers(cfg Cfg, name string, servers []Node) error {
	return updateBucketsDoc(cfg, func(doc *bucketsDoc) error {
		i, err := findBucketLocked(doc, name)
		if err != nil {
			return err
		}
		doc.Configs[i].Servers = servers
		return nil
	})
}

// BucketProps carries the subset of BucketDef fields update_bucket_props
// may change; a nil field is left untouched.
type BucketProps struct {
	RAMQuotaMB  *int
	NumReplicas *int
}

// CfgUpdateBucketProps applies a partial property update to a bucket.
func CfgUpdateBucketProps(cfg Cfg, name string, props BucketProps) error {
	return updateBucketsDoc(cfg, func(doc *bucketsDoc) error {
		i, err := findBucketLocked(doc, name)
		if err != nil {
			return err
		}
		if props.RAMQuotaMB != nil {
			doc.Configs[i].RAMQuotaMB = *props.RAMQuotaMB
		}
		if props.NumReplicas != nil {
			doc.Configs[i].NumReplicas = *props.NumReplicas
		}
		return nil
	})
}

// reservedPorts returns the cluster-wide ports (memcached, moxi,
// admin-web) every bucket's proxy port must avoid.
func reservedPorts(doc *bucketsDoc) map[int]bool {
	used := map[int]bool{}
	if doc.MemcachedPort != 0 {
		used[doc.MemcachedPort] = true
	}
	if doc.MoxiPort != 0 {
		used[doc.MoxiPort] = true
	}
	if doc.AdminWebPort != 0 {
		used[doc.AdminWebPort] = true
	}
	return used
}

// CfgCreateBucket validates and inserts a new bucket definition,
// rejecting invalid names and port collisions against the reserved
// cluster ports or another bucket's proxy port.
func CfgCreateBucket(cfg Cfg, b *BucketDef) error {
	if err := ValidateBucketName(b.Name); err != nil {
		return err
	}

	if b.UUID == "" {
		b.UUID = uuid.NewString()
	}

	return updateBucketsDoc(cfg, func(doc *bucketsDoc) error {
		for _, existing := range doc.Configs {
			if existing.Name == b.Name {
				return fmt.Errorf("vbmap: bucket %q already exists", b.Name)
			}
			if b.ProxyPort != 0 && existing.ProxyPort == b.ProxyPort {
				return ErrPortConflict
			}
		}

		if b.ProxyPort != 0 && reservedPorts(doc)[b.ProxyPort] {
			return ErrPortConflict
		}

		doc.Configs = append(doc.Configs, b)
		return nil
	})
}

// CfgDeleteBucket removes a bucket definition by name.
func CfgDeleteBucket(cfg Cfg, name string) error {
	return updateBucketsDoc(cfg, func(doc *bucketsDoc) error {
		i, err := findBucketLocked(doc, name)
		if err != nil {
			return err
		}
		doc.Configs = append(doc.Configs[:i], doc.Configs[i+1:]...)
		return nil
	})
}
