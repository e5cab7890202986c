// Copyright (c) 2026 Tigera, Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/config"
	"github.com/projectcalico/sbfilter/filter"
	"github.com/projectcalico/sbfilter/logutils"
	"github.com/projectcalico/sbfilter/lport"
	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

var (
	countCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sbfilter_cycles",
		Help: "Number of processing cycles run.",
	})
	summaryCycleTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "sbfilter_cycle_time_seconds",
		Help:       "Seconds to build the indexes, update the filter and reclaim unused datapaths.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)

func init() {
	prometheus.MustRegister(countCycles)
	prometheus.MustRegister(summaryCycleTime)
}

// CycleInput is what the caller decided this host needs in a cycle.
type CycleInput struct {
	// LocalPorts are the logical ports that this host needs by name.
	LocalPorts []string
	// FilterLocalDatapaths filters the datapath of every local port that
	// resolves in this cycle's port index.
	FilterLocalDatapaths bool
	// FilterDatapaths are datapaths to replicate wholesale.
	FilterDatapaths []*model.DatapathBinding
	// UnfilterDatapaths are tunnel keys of datapaths to stop replicating
	// wholesale.  They are processed after FilterDatapaths.
	UnfilterDatapaths []int64
}

// CycleResult summarises a cycle.
type CycleResult struct {
	NumPorts     int
	NumGroups    int
	NumDatapaths int
	// UnresolvedPorts are local ports that have no Port_Binding row yet.
	UnresolvedPorts []string
}

// Controller owns the datapath registry and the replication filter, and runs
// whole processing cycles against them.  It is safe for concurrent use; cycles
// are serialised.
type Controller struct {
	lock sync.Mutex

	conds    sbdb.Conditions
	registry *lport.DatapathRegistry
	filter   *filter.Filter
}

// New creates a controller that writes its clauses to conds.  A nil config
// means config.Default().
func New(conds sbdb.Conditions, cfg *config.Config) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}
	dupLog := logutils.NewRateLimitedLogger(
		logutils.OptInterval(cfg.DuplicateLogInterval),
		logutils.OptBurst(cfg.DuplicateLogBurst),
	)
	return &Controller{
		conds: conds,
		registry: lport.NewDatapathRegistry(conds,
			lport.WithDependentTables(cfg.RegistryTables...),
			lport.WithDuplicateLogger(dupLog),
		),
		filter: filter.New(conds, filter.WithTables(cfg.FilterTables...)),
	}
}

// Init sets up the initial conditions.  It must be called once before the
// first cycle.
func (c *Controller) Init() {
	c.lock.Lock()
	defer c.lock.Unlock()

	log.Info("Initialising replication filter")
	c.filter.Init()
}

// Reset forgets every datapath and subscription and returns the conditions to
// the state left by Init.
func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()

	log.Info("Resetting replication filter")
	c.registry.Clear()
	for _, t := range c.registry.Tables() {
		if !c.filter.ManagesTable(t) {
			c.conds.Forget(t)
		}
	}
	c.filter.Clear()
}

// RunCycle builds the indexes from the current rows, applies the input to the
// filter, sweeps unused port subscriptions and reclaims unused datapaths.
func (c *Controller) RunCycle(rows sbdb.Rows, in CycleInput) CycleResult {
	c.lock.Lock()
	defer c.lock.Unlock()

	startTime := time.Now()
	defer func() {
		summaryCycleTime.Observe(time.Since(startTime).Seconds())
		countCycles.Inc()
	}()

	ports := lport.BuildPortIndex(rows, c.registry)
	groups := lport.BuildMulticastGroupIndex(rows, c.registry)

	var result CycleResult
	c.filter.MarkUnused()
	for _, name := range in.LocalPorts {
		c.filter.FilterLogicalPort(name)
		pb := ports.LookupByName(name)
		if pb == nil {
			result.UnresolvedPorts = append(result.UnresolvedPorts, name)
			continue
		}
		if in.FilterLocalDatapaths {
			c.filter.FilterDatapath(pb.Datapath)
		}
	}
	for i, dp := range in.FilterDatapaths {
		if dp == nil {
			log.WithField("index", i).Warn("Asked to filter a missing datapath, ignoring it")
			continue
		}
		c.filter.FilterDatapath(dp)
	}
	for _, key := range in.UnfilterDatapaths {
		c.filter.UnfilterDatapath(key)
	}
	c.filter.RemoveUnused(ports)

	result.NumPorts = ports.Len()
	result.NumGroups = groups.Len()
	groups.Teardown()
	ports.Teardown(rows)
	result.NumDatapaths = c.registry.Len()

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"numPorts":        result.NumPorts,
			"numGroups":       result.NumGroups,
			"numDatapaths":    result.NumDatapaths,
			"unresolvedPorts": result.UnresolvedPorts,
			"timeTaken":       time.Since(startTime),
		}).Debug("Finished cycle")
	}
	return result
}

// Datapaths returns the registry entries sorted by tunnel key.
func (c *Controller) Datapaths() []lport.LogicalDatapath {
	c.lock.Lock()
	defer c.lock.Unlock()

	dps := c.registry.Datapaths()
	sort.Slice(dps, func(i, j int) bool { return dps[i].TunnelKey < dps[j].TunnelKey })
	return dps
}

func (c *Controller) FilteredPorts() []filter.PortEntry {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.filter.FilteredPorts()
}

func (c *Controller) FilteredDatapaths() []filter.DatapathEntry {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.filter.FilteredDatapaths()
}
