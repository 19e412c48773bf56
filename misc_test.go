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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestVersionGTE(t *testing.T) {
	tests := []struct {
		x        string
		y        string
		expected bool
	}{
		{"0.0.0", "0.0.0", true},
		{"0.0.1", "0.0.0", true},
		{"3.0.1", "2.0", true},
		{"3.0.0", "3.0", true},
		{"2.0.0", "2.0", true},
		{"2.0.1", "2.0", true},
		{"2.0.0", "2.5", false},
		{"1.0", "1.0.0", false},
		{"0.0", "0.0.0", false},
		{"", "", false},
		{"0", "", false},
		{"0.0", "", false},
		{"", "0", false},
		{"", "0.0", false},
		{"hello", "hello", false},
		{"0", "hello", false},
		{"0.0", "hello", false},
		{"hello", "0", false},
		{"hello", "0.0", false},
		{"3.1.0", "4.0.0", false},
		{"3.1.0", "3.2.0", false},
		{"3.2.0", "3.1.0", true},
		{"4.0.0", "3.1.0", true},
	}

	for i, test := range tests {
		actual := VersionGTE(test.x, test.y)
		if actual != test.expected {
			t.Errorf("test: %d, expected: %v, when %s >= %s, got: %v",
				i, test.expected, test.x, test.y, actual)
		}
	}
}

func TestNewUUID(t *testing.T) {
	u0 := NewUUID()
	u1 := NewUUID()
	if u0 == "" || u1 == "" || u0 == u1 {
		t.Errorf("NewUUID() failed, %s, %s", u0, u1)
	}
}

func TestExponentialBackoffLoop(t *testing.T) {
	called := 0
	ExponentialBackoffLoop("test", func() int {
		called += 1
		return -1
	}, 0, 0, 0)
	if called != 1 {
		t.Errorf("expected 1 call")
	}

	called = 0
	ExponentialBackoffLoop("test", func() int {
		called += 1
		if called <= 1 {
			return 1
		}
		return -1
	}, 0, 0, 0)
	if called != 2 {
		t.Errorf("expected 2 calls")
	}

	called = 0
	ExponentialBackoffLoop("test", func() int {
		called += 1
		if called == 1 {
			return 1
		}
		if called == 2 {
			return 0
		}
		return -1
	}, 0, 0, 0)
	if called != 3 {
		t.Errorf("expected 3 calls")
	}

	called = 0
	ExponentialBackoffLoop("test", func() int {
		called += 1
		if called == 1 {
			return 1
		}
		if called == 2 {
			return 0
		}
		return -1
	}, 1, 100000.0, 1)
	if called != 3 {
		t.Errorf("expected 3 calls")
	}
}

func TestTime(t *testing.T) {
	count := uint64(10)
	duration := uint64(100)
	maxDuration := uint64(50)
	Time(func() error {
		time.Sleep(123 * time.Millisecond)
		return nil
	}, &duration, &count, &maxDuration)
	if count <= 10 {
		t.Errorf("expected count to be > 10")
	}
	if duration <= 100 {
		t.Errorf("expected duration to be > 100")
	}
	if maxDuration <= 50 {
		t.Errorf("expected maxDuration to be > 50")
	}
}

func TestErrorToString(t *testing.T) {
	if ErrorToString(fmt.Errorf("hi")) != "hi" {
		t.Errorf("expected hi")
	}
	if ErrorToString(nil) != "" {
		t.Errorf("expected empty string")
	}
}

func TestIndentJSON(t *testing.T) {
	s := IndentJSON(TestIndentJSON, "prefix", "indent")
	if strings.Index(s, "err") < 0 {
		t.Errorf("expected err on bad non-json'able IndentJSON()")
	}
}

func TestIsNanOrInf(t *testing.T) {
	zval := 0.0
	tests := []struct {
		in  float64
		out bool
	}{
		{
			in:  1,
			out: false,
		},
		{
			in:  0.0 / zval,
			out: true,
		},
		{
			in:  1.0 / zval,
			out: true,
		},
		{
			in:  -1.0 / zval,
			out: true,
		},
	}
	for i, test := range tests {
		actual := isNanOrInf(test.in)
		if actual != test.out {
			t.Errorf("testi: %d, expected %t got %t", i, test.out, actual)
		}
	}
}

func TestFPrintFloatMap(t *testing.T) {
	zval := 0.0
	tests := []struct {
		name            string
		values          map[string]float64
		jsonParsedValue map[string]interface{}
	}{
		// 1 value
		{
			name: "n",
			values: map[string]float64{
				"v1": 3.14,
			},
			jsonParsedValue: map[string]interface{}{
				"n": map[string]interface{}{
					"v1": 3.14,
				},
			},
		},
		// 2 values
		{
			name: "n",
			values: map[string]float64{
				"v1": 3.14,
				"v2": 1.2,
			},
			jsonParsedValue: map[string]interface{}{
				"n": map[string]interface{}{
					"v1": 3.14,
					"v2": 1.2,
				},
			},
		},
		// 3 values, one is +Inf
		{
			name: "n",
			values: map[string]float64{
				"v1":  3.14,
				"v2":  1.2,
				"inf": 1.0 / zval,
			},
			jsonParsedValue: map[string]interface{}{
				"n": map[string]interface{}{
					"v1": 3.14,
					"v2": 1.2,
				},
			},
		},
		// all values invalid
		{
			name: "n",
			values: map[string]float64{
				"inf": 1.0 / zval,
				"nan": 0.0 / zval,
			},
			jsonParsedValue: map[string]interface{}{
				"n": map[string]interface{}{},
			},
		},
	}

	// we can't just compare the generated strings because map iteration order
	// is not stable, instead we parse the string back, and compare the result
	for i, test := range tests {
		var buf bytes.Buffer
		fPrintFloatMap(&buf, test.name, test.values)
		jsonString := buf.String()
		// wrap it in surrounding structure
		jsonString = "{" + jsonString + "}"
		var parsed map[string]interface{}
		err := json.Unmarshal([]byte(jsonString), &parsed)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(parsed, test.jsonParsedValue) {
			t.Errorf("testi: %d, expected %v got %v", i, test.jsonParsedValue, parsed)
		}
	}
}

func TestStringsRemoveDuplicates(t *testing.T) {
	tests := []struct {
		in  []string
		out []string
	}{
		{nil, nil},
		{[]string{"a"}, []string{"a"}},
		{[]string{"a", "a", "b"}, []string{"a", "b"}},
		{[]string{"a", "b", "a", "b", "c"}, []string{"a", "b", "c"}},
	}
	for i, test := range tests {
		actual := StringsRemoveDuplicates(test.in)
		if !reflect.DeepEqual(actual, test.out) && !(len(actual) == 0 && len(test.out) == 0) {
			t.Errorf("test: %d, expected %v, got %v", i, test.out, actual)
		}
	}
}

func TestStringsIntersectStrings(t *testing.T) {
	tests := []struct {
		a   []string
		b   []string
		out []string
	}{
		{[]string{"a", "b", "c"}, []string{"b", "c", "d"}, []string{"b", "c"}},
		{[]string{"a", "b"}, []string{"c", "d"}, []string{}},
		{[]string{"a", "a", "b"}, []string{"a"}, []string{"a"}},
	}
	for i, test := range tests {
		actual := StringsIntersectStrings(test.a, test.b)
		if !reflect.DeepEqual(actual, test.out) {
			t.Errorf("test: %d, expected %v, got %v", i, test.out, actual)
		}
	}
}

func TestCalcMovingVBucketsCount(t *testing.T) {
	// scaleOut case: 1 => 3 nodes
	numKeepNodes := 3
	numRemoveNodes := 0
	numExistingNodes := 1
	numNewNodes := 2
	numVBuckets := 18 // eg: 6 * 3 indexes

	movingVBucketCount := CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 12 {
		t.Errorf(" moving partitions count should be 12")
	}

	// scaleIn case: 3 => 2 nodes
	numKeepNodes = 2
	numRemoveNodes = 1
	numExistingNodes = 3
	numNewNodes = 0
	numVBuckets = 18

	movingVBucketCount = CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 6 {
		t.Errorf(" moving partitions count should be 6")
	}

	// constant node count case: 2 => 2 nodes
	numKeepNodes = 2
	numRemoveNodes = 1
	numExistingNodes = 2
	numNewNodes = 1
	numVBuckets = 18

	movingVBucketCount = CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 9 {
		t.Errorf(" moving partitions count should be 9")
	}

	// few random cases
	numKeepNodes = 2
	numRemoveNodes = 1
	numExistingNodes = 2
	numNewNodes = 1
	numVBuckets = 0

	movingVBucketCount = CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 0 {
		t.Errorf(" moving partitions count should be 0")
	}

	numKeepNodes = 0
	numRemoveNodes = 1
	numExistingNodes = 2
	numNewNodes = 1
	numVBuckets = 18

	movingVBucketCount = CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 0 {
		t.Errorf(" moving partitions count should be 0")
	}

	numKeepNodes = 3
	numRemoveNodes = 0
	numExistingNodes = 3
	numNewNodes = 0
	numVBuckets = 18

	movingVBucketCount = CalcMovingVBucketsCount(numKeepNodes,
		numRemoveNodes, numNewNodes, numExistingNodes, numVBuckets)

	if movingVBucketCount != 0 {
		t.Errorf(" moving partitions count should be 0")
	}
}
