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

package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	log "github.com/couchbase/clog"

	"github.com/couchbase/vbmap"
)

var flags struct {
	CfgConnect  string
	Bucket      string
	RemoveNodes string
	DryRun      bool
	Version     bool
}

func init() {
	flag.StringVar(&flags.CfgConnect, "cfg", "",
		"couchbase URL of the config bucket, as \"url/bucket\";\nempty means use an in-memory, single-run Cfg")
	flag.StringVar(&flags.Bucket, "bucket", "",
		"name of the bucket to plan; empty means every bucket")
	flag.StringVar(&flags.RemoveNodes, "removeNodes", "",
		"comma-separated nodes being ejected from the plan")
	flag.BoolVar(&flags.DryRun, "dryRun", false,
		"when true, print the plan instead of committing it")
	flag.BoolVar(&flags.Version, "version", false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if flags.Version {
		fmt.Printf("%s: %s\n", path.Base(os.Args[0]), vbmap.VERSION)
		os.Exit(0)
	}

	cfg, err := mainCfgClient(flags.CfgConnect)
	if err != nil {
		log.Fatalf("main: cfg client, err: %v", err)
		return
	}

	var removeNodes []vbmap.Node
	if flags.RemoveNodes != "" {
		for _, n := range vbmap.StringsRemoveDuplicates(strings.Split(flags.RemoveNodes, ",")) {
			removeNodes = append(removeNodes, vbmap.Node(n))
		}
	}

	buckets, err := selectBuckets(cfg, flags.Bucket)
	if err != nil {
		log.Fatalf("main: selecting buckets, err: %v", err)
		return
	}

	for _, b := range buckets {
		if err := planBucket(cfg, b, removeNodes, flags.DryRun); err != nil {
			log.Fatalf("main: planning bucket %s, err: %v", b.Name, err)
			return
		}
	}

	log.Printf("main: done")
}

func selectBuckets(cfg vbmap.Cfg, name string) ([]*vbmap.BucketDef, error) {
	if name != "" {
		b, err := vbmap.CfgGetBucket(cfg, name)
		if err != nil {
			return nil, err
		}
		return []*vbmap.BucketDef{b}, nil
	}
	return vbmap.CfgGetBuckets(cfg)
}

// planBucket runs the planner's non-data-moving steps: an initial map
// for a bucket that doesn't have one yet, or a dry-run echo of the
// master-moves/balance/repair a rebalance would otherwise commit. It
// never talks to a Mover -- actually relocating data is the job of
// vbmap-rebalance.
func planBucket(cfg vbmap.Cfg, b *vbmap.BucketDef, removeNodes []vbmap.Node, dryRun bool) error {
	if b.Type == vbmap.BucketTypeMemcached {
		log.Printf("planner: bucket %s is memcached, nothing to plan", b.Name)
		return nil
	}

	if len(b.Map) == 0 {
		m, err := vbmap.GenerateInitialMap(b.NumReplicas, b.NumVBuckets, b.Servers)
		if err != nil {
			return err
		}
		log.Printf("planner: bucket %s: generated initial map for %d vbuckets",
			b.Name, len(m))
		if dryRun {
			fmt.Println(vbmap.IndentJSON(m, "", "  "))
			return nil
		}
		return vbmap.CfgSetMap(cfg, b.Name, m)
	}

	// Ignore any removeNodes not actually among this bucket's servers --
	// a node named in -removeNodes for a different bucket shouldn't
	// affect this one's plan.
	inBucket := vbmap.StringsIntersectStrings(nodesToStrings(removeNodes), nodesToStrings(b.Servers))
	removeNodes = stringsToNodes(inBucket)

	keepNodes := vbmap.StringsRemoveStrings(nodesToStrings(b.Servers), nodesToStrings(removeNodes))
	keep := stringsToNodes(keepNodes)

	hists := vbmap.Histograms(b.Map, keep)
	moves := vbmap.MasterMoves(b.Map, keep, vbmap.NodeSet(removeNodes), hists[0])
	if len(moves) == 0 {
		log.Printf("planner: bucket %s: no master moves needed", b.Name)
	} else {
		log.Printf("planner: bucket %s: %d master moves planned", b.Name, len(moves))
	}

	if dryRun {
		fmt.Println(vbmap.IndentJSON(moves, "", "  "))
		return nil
	}

	m := b.Map
	for _, mv := range moves {
		m = vbmap.ApplyMove(m, mv.Turn, mv.V, mv.New)
	}
	hists = vbmap.Histograms(m, keep)
	m = vbmap.NewReplicas(m, keep, vbmap.NodeSet(removeNodes), hists)

	return vbmap.CfgSetMap(cfg, b.Name, m)
}

func nodesToStrings(nodes []vbmap.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = string(n)
	}
	return out
}

func stringsToNodes(strs []string) []vbmap.Node {
	out := make([]vbmap.Node, len(strs))
	for i, s := range strs {
		out[i] = vbmap.Node(s)
	}
	return out
}

// mainCfgClient builds a Cfg from a "-cfg" flag of the form
// "url/bucket", or an in-memory Cfg when empty.
func mainCfgClient(cfgConnect string) (vbmap.Cfg, error) {
	if cfgConnect == "" {
		return vbmap.NewCfgMem(), nil
	}

	idx := strings.LastIndex(cfgConnect, "/")
	if idx < 0 {
		return nil, fmt.Errorf("main: invalid -cfg %q, want \"url/bucket\"", cfgConnect)
	}

	return vbmap.NewCfgCB(cfgConnect[:idx], cfgConnect[idx+1:])
}
