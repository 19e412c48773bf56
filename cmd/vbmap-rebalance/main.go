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
	"net/http"
	"os"
	"path"
	"strings"

	log "github.com/couchbase/clog"

	"github.com/couchbase/vbmap"
	"github.com/couchbase/vbmap/rebalance"
	"github.com/couchbase/vbmap/rest"
)

var flags struct {
	CfgConnect  string
	KeepNodes   string
	EjectNodes  string
	FailedNodes string
	Bind        string
	Version     bool
}

func init() {
	flag.StringVar(&flags.CfgConnect, "cfg", "",
		"couchbase URL of the config bucket, as \"url/bucket\";\nempty means use an in-memory, single-run Cfg")
	flag.StringVar(&flags.KeepNodes, "keepNodes", "",
		"comma-separated nodes remaining in the cluster after rebalance")
	flag.StringVar(&flags.EjectNodes, "ejectNodes", "",
		"comma-separated nodes being gracefully removed")
	flag.StringVar(&flags.FailedNodes, "failedNodes", "",
		"comma-separated nodes already down")
	flag.StringVar(&flags.Bind, "bind", "",
		"address to serve the read-only status API on, e.g. \":8091\";\nempty means don't serve")
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

	keepNodes := splitNodes(flags.KeepNodes)
	ejectNodes := splitNodes(flags.EjectNodes)
	failedNodes := splitNodes(flags.FailedNodes)

	collab := rebalance.Collaborators{
		Cfg:   cfg,
		Mover: rebalance.NewLocalMover(noopTransfer),
	}

	r := rebalance.NewRebalancer(collab, rebalance.Options{})

	if flags.Bind != "" {
		router := rest.NewStatusRouter(r, cfg, func() (map[vbmap.Node]bool, error) {
			return vbmap.NodeSet(keepNodes), nil
		})
		go func() {
			log.Printf("main: status API listening on %s", flags.Bind)
			if err := http.ListenAndServe(flags.Bind, router); err != nil {
				log.Warnf("main: status API stopped, err: %v", err)
			}
		}()
	}

	r.StartRebalance(keepNodes, ejectNodes, failedNodes)
	<-r.Done()

	res := r.Result()
	if res.Status != rebalance.StatusOK {
		log.Fatalf("main: rebalance finished with status %s, err: %v", res.Status, res.Err)
		return
	}

	log.Printf("main: done")
}

// noopTransfer is the default transfer function when this process
// owns no data path of its own: a deployment wiring in a real data
// engine supplies its own rebalance.Mover instead of NewLocalMover.
func noopTransfer(bucket string, m vbmap.Move) error {
	log.Printf("rebalance: bucket %s: move vbucket %d from %s to %s",
		bucket, m.V, m.Old, m.New)
	return nil
}

func splitNodes(s string) []vbmap.Node {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]vbmap.Node, len(parts))
	for i, p := range parts {
		out[i] = vbmap.Node(p)
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
