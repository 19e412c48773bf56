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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsKeyNotFound(t *testing.T) {
	require.True(t, isKeyNotFound(errors.New("Not Found")))
	require.False(t, isKeyNotFound(errors.New("timeout")))
	require.False(t, isKeyNotFound(nil))
}

func TestNewCfgCBFailsOnBadURL(t *testing.T) {
	c, err := NewCfgCB("a bad url", "some bogus bucket")
	require.Error(t, err)
	require.Nil(t, c)
}
