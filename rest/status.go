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

// Package rest is a minimal, read-only admin surface for a running
// rebalance: a caller polls it instead of reaching into the
// Rebalancer's Go API directly.
package rest

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/couchbase/vbmap"
	"github.com/couchbase/vbmap/rebalance"
)

// RebalanceStatusHandler serves the current status of a rebalance run.
type RebalanceStatusHandler struct {
	r *rebalance.Rebalancer
}

func NewRebalanceStatusHandler(r *rebalance.Rebalancer) *RebalanceStatusHandler {
	return &RebalanceStatusHandler{r: r}
}

func (h *RebalanceStatusHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	running := true
	select {
	case <-h.r.Done():
		running = false
	default:
	}

	out := map[string]interface{}{"running": running}
	if !running {
		res := h.r.Result()
		out["runId"] = res.RunID
		out["status"] = string(res.Status)
		out["error"] = vbmap.ErrorToString(res.Err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(vbmap.IndentJSON(out, "", "  ")))
}

// ClusterSafetyHandler serves the cluster-wide safety classification
// for every membase bucket currently in cfg.
type ClusterSafetyHandler struct {
	cfg   vbmap.Cfg
	alive func() (map[vbmap.Node]bool, error)
}

func NewClusterSafetyHandler(cfg vbmap.Cfg,
	alive func() (map[vbmap.Node]bool, error)) *ClusterSafetyHandler {
	return &ClusterSafetyHandler{cfg: cfg, alive: alive}
}

func (h *ClusterSafetyHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	buckets, err := vbmap.CfgGetBuckets(h.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	liveNodes, err := h.alive()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	worst, softNodesNeeded := vbmap.ClusterSafety(buckets, liveNodes, "cluster")

	out := map[string]interface{}{
		"safety":   worst.String(),
		"warnings": vbmap.FailoverWarnings(worst, softNodesNeeded),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(vbmap.IndentJSON(out, "", "  ")))
}

// BucketsHandler serves the raw bucket definitions, vbucket maps
// included, as a JSON array -- useful for inspecting a cluster's
// layout without a couchbase client.
type BucketsHandler struct {
	cfg vbmap.Cfg
}

func NewBucketsHandler(cfg vbmap.Cfg) *BucketsHandler {
	return &BucketsHandler{cfg: cfg}
}

func (h *BucketsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	buckets, err := vbmap.CfgGetBuckets(h.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(vbmap.IndentJSON(buckets, "", "  ")))
}

// PlannerMetricsHandler serves latency timers for the pure planning
// primitives (balance_nodes, etc.) and their invocation counters as
// JSON.
type PlannerMetricsHandler struct{}

func NewPlannerMetricsHandler() *PlannerMetricsHandler {
	return &PlannerMetricsHandler{}
}

func (h *PlannerMetricsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"counts":`)
	w.Write([]byte(vbmap.IndentJSON(vbmap.SnapshotStats(), "", "  ")))
	fmt.Fprint(w, `,"timers":`)
	vbmap.WritePlannerMetricsJSON(w)
	fmt.Fprint(w, `}`)
}

// NewStatusRouter wires the read-only status surface onto a fresh
// mux.Router: GET /api/rebalance, GET /api/safety, GET /api/buckets,
// GET /api/metrics.
func NewStatusRouter(r *rebalance.Rebalancer, cfg vbmap.Cfg,
	alive func() (map[vbmap.Node]bool, error)) *mux.Router {
	router := mux.NewRouter()
	router.StrictSlash(true)

	router.Handle("/api/rebalance", NewRebalanceStatusHandler(r)).Methods("GET")
	router.Handle("/api/safety", NewClusterSafetyHandler(cfg, alive)).Methods("GET")
	router.Handle("/api/buckets", NewBucketsHandler(cfg)).Methods("GET")
	router.Handle("/api/metrics", NewPlannerMetricsHandler()).Methods("GET")

	return router
}
