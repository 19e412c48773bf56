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
	"bytes"
	"testing"
)

func TestSnapshotStats(t *testing.T) {
	before := SnapshotStats()

	m := VBucketMap{{"a", NoNode}}
	Failover(m, map[Node]bool{"a": true})

	after := SnapshotStats()
	if after.TotFailover != before.TotFailover+1 {
		t.Errorf("expected TotFailover to advance by 1, before %d after %d",
			before.TotFailover, after.TotFailover)
	}
}

func TestWritePlannerMetricsJSON(t *testing.T) {
	plannerTimer("test_write_planner_metrics").Update(0)

	var buf bytes.Buffer
	WritePlannerMetricsJSON(&buf)

	if buf.Len() == 0 || buf.Bytes()[0] != '{' {
		t.Errorf("expected a JSON object, got %q", buf.String())
	}
}
