/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package perfrecord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemWideCollectionPrefersDirectKey(t *testing.T) {
	m := MetaInfo{"system_wide_collection": "true"}
	assert.True(t, m.SystemWideCollection([]string{"prog"}))

	m = MetaInfo{"system_wide_collection": "false"}
	assert.False(t, m.SystemWideCollection([]string{"prog", "-a"}))
}

func TestSystemWideCollectionFallsBackToCommandLineHeuristic(t *testing.T) {
	m := MetaInfo{}
	assert.True(t, m.SystemWideCollection([]string{"prog", "-a"}))
	assert.True(t, m.SystemWideCollection([]string{"prog", "-ag"}))
	assert.False(t, m.SystemWideCollection([]string{"prog", "-p", "123"}))
	assert.False(t, m.SystemWideCollection([]string{"prog", "--all"}))
}

func TestTraceOffCPU(t *testing.T) {
	assert.True(t, MetaInfo{"trace_offcpu": "true"}.TraceOffCPU())
	assert.False(t, MetaInfo{}.TraceOffCPU())
}
