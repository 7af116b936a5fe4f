// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/KhiopsML/khiops-parallel/internal/cluster"
	"github.com/KhiopsML/khiops-parallel/internal/resource"
	"github.com/KhiopsML/khiops-parallel/internal/solver"
)

// hostSpec is one host entry in a cluster YAML file. Byte sizes are
// humanized strings ("100GiB").
type hostSpec struct {
	Name   string `mapstructure:"name"`
	Master bool   `mapstructure:"master"`
	Memory string `mapstructure:"memory"`
	Disk   string `mapstructure:"disk"`
	Slots  int    `mapstructure:"slots"`
}

// intervalSpec is a [min, max] interval per resource kind. An empty
// max means unbounded.
type intervalSpec struct {
	MemoryMin string `mapstructure:"memory_min"`
	MemoryMax string `mapstructure:"memory_max"`
	DiskMin   string `mapstructure:"disk_min"`
	DiskMax   string `mapstructure:"disk_max"`
}

// requirementSpec is the optional requirement section of a cluster
// file; an absent minimum reads as zero and an absent maximum as
// resource.Infinite.
type requirementSpec struct {
	Master      intervalSpec `mapstructure:"master"`
	Slave       intervalSpec `mapstructure:"slave"`
	Shared      intervalSpec `mapstructure:"shared"`
	GlobalSlave intervalSpec `mapstructure:"global_slave"`
	Policy      string       `mapstructure:"policy"`
	MaxSubtasks int64        `mapstructure:"max_subtasks"`
}

type clusterFile struct {
	Hosts       []hostSpec      `mapstructure:"hosts"`
	Requirement requirementSpec `mapstructure:"requirement"`
}

// loadClusterFile reads a cluster description plus the task
// requirement from a YAML file.
func loadClusterFile(path string) (*cluster.Cluster, solver.Requirement, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, solver.Requirement{}, fmt.Errorf("read cluster file %s: %w", path, err)
	}
	var cf clusterFile
	if err := v.Unmarshal(&cf); err != nil {
		return nil, solver.Requirement{}, fmt.Errorf("parse cluster file %s: %w", path, err)
	}
	if len(cf.Hosts) == 0 {
		return nil, solver.Requirement{}, fmt.Errorf("cluster file %s declares no hosts", path)
	}

	hosts := make([]cluster.Host, 0, len(cf.Hosts))
	for _, hs := range cf.Hosts {
		mem, err := parseSize(hs.Memory, 0)
		if err != nil {
			return nil, solver.Requirement{}, fmt.Errorf("host %s memory: %w", hs.Name, err)
		}
		disk, err := parseSize(hs.Disk, 0)
		if err != nil {
			return nil, solver.Requirement{}, fmt.Errorf("host %s disk: %w", hs.Name, err)
		}
		slots := hs.Slots
		if slots < 1 {
			slots = 1
		}
		hosts = append(hosts, cluster.Host{
			Name:          hs.Name,
			MemoryBytes:   mem,
			FreeDiskBytes: disk,
			ProcessSlots:  slots,
			IsMasterHost:  hs.Master,
		})
	}
	c, err := cluster.New(hosts)
	if err != nil {
		return nil, solver.Requirement{}, err
	}

	req, err := buildRequirement(cf.Requirement)
	if err != nil {
		return nil, solver.Requirement{}, err
	}
	return c, req, nil
}

func buildRequirement(rs requirementSpec) (solver.Requirement, error) {
	req := solver.NewRequirement()

	var err error
	if req.Master, err = parseInterval(rs.Master); err != nil {
		return req, fmt.Errorf("requirement master: %w", err)
	}
	if req.Slave, err = parseInterval(rs.Slave); err != nil {
		return req, fmt.Errorf("requirement slave: %w", err)
	}
	if req.Shared, err = parseInterval(rs.Shared); err != nil {
		return req, fmt.Errorf("requirement shared: %w", err)
	}
	if req.GlobalSlave, err = parseInterval(rs.GlobalSlave); err != nil {
		return req, fmt.Errorf("requirement global_slave: %w", err)
	}

	switch rs.Policy {
	case "", "horizontal":
		req.Parallel = solver.Horizontal
	case "vertical":
		req.Parallel = solver.Vertical
	default:
		return req, fmt.Errorf("requirement policy %q: want horizontal or vertical", rs.Policy)
	}
	if rs.MaxSubtasks > 0 {
		req.MaxSubtaskCount = rs.MaxSubtasks
	}
	return req, nil
}

func parseInterval(is intervalSpec) (resource.IntervalVector, error) {
	var out resource.IntervalVector

	memMin, err := parseSize(is.MemoryMin, 0)
	if err != nil {
		return out, err
	}
	memMax, err := parseSize(is.MemoryMax, resource.Infinite)
	if err != nil {
		return out, err
	}
	diskMin, err := parseSize(is.DiskMin, 0)
	if err != nil {
		return out, err
	}
	diskMax, err := parseSize(is.DiskMax, resource.Infinite)
	if err != nil {
		return out, err
	}

	out[resource.Memory] = resource.Interval{Min: memMin, Max: memMax}
	out[resource.Disk] = resource.Interval{Min: diskMin, Max: diskMax}
	return out, nil
}

// parseSize resolves a humanized byte size; empty means def, "inf"
// means unbounded.
func parseSize(s string, def int64) (int64, error) {
	switch s {
	case "":
		return def, nil
	case "inf":
		return resource.Infinite, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}
