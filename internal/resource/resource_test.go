// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package resource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KhiopsML/khiops-parallel/internal/resource"
)

func TestVectorAddSaturates(t *testing.T) {
	a := resource.Vector{}.With(resource.Memory, resource.Infinite-1)
	b := resource.Vector{}.With(resource.Memory, 10)

	got := a.Add(b)

	assert.Equal(t, resource.Infinite, got.Get(resource.Memory))
}

func TestVectorMinAndLessEq(t *testing.T) {
	a := resource.Vector{}.With(resource.Memory, 100).With(resource.Disk, 50)
	b := resource.Vector{}.With(resource.Memory, 80).With(resource.Disk, 200)

	min := a.Min(b)
	require.Equal(t, int64(80), min.Get(resource.Memory))
	require.Equal(t, int64(50), min.Get(resource.Disk))

	assert.True(t, min.LessEq(a))
	assert.True(t, min.LessEq(b))
	assert.False(t, a.LessEq(min))
}

func TestIntervalVectorValid(t *testing.T) {
	var iv resource.IntervalVector
	iv[resource.Memory] = resource.Interval{Min: 10, Max: 20}
	iv[resource.Disk] = resource.Interval{Min: 30, Max: 10}

	assert.True(t, iv[resource.Memory].Valid())
	assert.False(t, iv.Valid())
}

func TestScaleSaturates(t *testing.T) {
	v := resource.Vector{}.With(resource.Disk, resource.Infinite/2)
	got := v.Scale(3)
	assert.Equal(t, resource.Infinite, got.Get(resource.Disk))
}
