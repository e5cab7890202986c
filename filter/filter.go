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

// Package filter limits the rows that the database client replicates to the
// ones this host needs.
//
// Logical ports are subscribed one by one with a clause on their name, and
// logical datapaths wholesale with a clause on the datapath of every
// datapath-scoped table.  Port subscriptions are garbage collected by mark
// and sweep: MarkUnused at the start of a cycle, FilterLogicalPort for each
// port still needed, then RemoveUnused.  A port that is no longer needed only
// loses its clause once its datapath is filtered, since the datapath clause
// then covers it.  Datapath subscriptions are added and removed explicitly.
package filter

import (
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

var (
	gaugeFilteredPorts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbfilter_filtered_ports",
		Help: "Number of logical ports with their own replication clause.",
	})
	gaugeFilteredDatapaths = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbfilter_filtered_datapaths",
		Help: "Number of logical datapaths replicated wholesale.",
	})
	counterVecClauseChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbfilter_filter_changes",
		Help: "Number of port and datapath subscriptions added and removed.",
	}, []string{"kind", "op"})
	counterPortsAdded       = counterVecClauseChanges.WithLabelValues("port", "add")
	counterPortsRemoved     = counterVecClauseChanges.WithLabelValues("port", "remove")
	counterDatapathsAdded   = counterVecClauseChanges.WithLabelValues("datapath", "add")
	counterDatapathsRemoved = counterVecClauseChanges.WithLabelValues("datapath", "remove")
)

func init() {
	prometheus.MustRegister(
		gaugeFilteredPorts,
		gaugeFilteredDatapaths,
		counterVecClauseChanges,
	)
}

// DefaultTables are the tables that the filter manages.  Each one starts out
// replicating nothing and gets a clause for every filtered datapath.
var DefaultTables = []model.Table{
	model.PortBindingTable,
	model.MacBindingTable,
	model.LogicalFlowTable,
	model.MulticastGroupTable,
}

// PortLookup resolves logical port names to their current Port_Binding row.
// lport.PortIndex implements it.
type PortLookup interface {
	LookupByName(name string) *model.PortBinding
}

type filteredPort struct {
	name string
	used bool
}

type filteredDatapath struct {
	tunnelKey int64
	uuid      uuid.UUID
}

// PortEntry describes a filtered port.
type PortEntry struct {
	Name string
	Used bool
}

// DatapathEntry describes a filtered datapath.
type DatapathEntry struct {
	TunnelKey int64
	UUID      uuid.UUID
}

// Filter tracks the port and datapath subscriptions.  Its state persists
// across cycles.  It is not safe for concurrent use.
type Filter struct {
	conds  sbdb.Conditions
	tables []model.Table

	// ports is ordered by name and datapaths by tunnel key.
	ports     *btree.BTreeG[*filteredPort]
	datapaths *btree.BTreeG[*filteredDatapath]
}

const btreeDegree = 8

func portLess(a, b *filteredPort) bool {
	return a.name < b.name
}

func datapathLess(a, b *filteredDatapath) bool {
	return a.tunnelKey < b.tunnelKey
}

type Option func(*Filter)

// WithTables overrides the tables that get a clause per filtered datapath.
// The Port_Binding table always gets the per-port clauses.
func WithTables(tables ...model.Table) Option {
	return func(f *Filter) {
		f.tables = tables
	}
}

func New(conds sbdb.Conditions, opts ...Option) *Filter {
	f := &Filter{
		conds:     conds,
		tables:    DefaultTables,
		ports:     btree.NewG(btreeDegree, portLess),
		datapaths: btree.NewG(btreeDegree, datapathLess),
	}
	for _, o := range opts {
		o(f)
	}
	for _, t := range f.tables {
		if !model.IsDatapathScoped(t) {
			log.WithField("table", t).Panic("Filtered table is not scoped to a datapath")
		}
	}
	return f
}

// Init makes every managed table replicate nothing by default.
func (f *Filter) Init() {
	for _, t := range f.tables {
		f.conds.AddFalseClause(t)
	}
}

// Clear forgets every subscription, resets the conditions of the managed
// tables and re-applies Init.
func (f *Filter) Clear() {
	log.Info("Clearing replication filter")
	f.ports.Clear(false)
	f.datapaths.Clear(false)
	for _, t := range f.tables {
		f.conds.Reset(t)
	}
	f.Init()
	f.updateGauges()
}

// MarkUnused marks every filtered port as unused.  Ports that are not
// re-filtered before the next RemoveUnused become candidates for removal.
func (f *Filter) MarkUnused() {
	f.ports.Ascend(func(p *filteredPort) bool {
		p.used = false
		return true
	})
}

// FilterLogicalPort subscribes to the Port_Binding row of the named port, or
// marks the existing subscription as used.
func (f *Filter) FilterLogicalPort(name string) {
	if p, ok := f.ports.Get(&filteredPort{name: name}); ok {
		p.used = true
		return
	}

	log.WithField("name", name).Debug("Filter port")
	f.conds.AddEqualClause(model.PortBindingTable, model.LogicalPortColumn, name)
	f.ports.ReplaceOrInsert(&filteredPort{name: name, used: true})
	counterPortsAdded.Inc()
	f.updateGauges()
}

// FilterDatapath subscribes to the rows of the datapath in every managed
// table.  It is a no-op if a datapath with the same tunnel key is already
// filtered.
func (f *Filter) FilterDatapath(dp *model.DatapathBinding) {
	if f.IsDatapathFiltered(dp.TunnelKey) {
		return
	}

	log.WithFields(log.Fields{"datapath": dp.UUID, "tunnelKey": dp.TunnelKey}).Debug("Filter datapath")
	f.datapaths.ReplaceOrInsert(&filteredDatapath{tunnelKey: dp.TunnelKey, uuid: dp.UUID})
	for _, t := range f.tables {
		f.conds.AddEqualClause(t, model.DatapathColumn(t), dp.UUID)
	}
	counterDatapathsAdded.Inc()
	f.updateGauges()
}

// UnfilterDatapath removes the subscription to the datapath with the given
// tunnel key, if there is one.
func (f *Filter) UnfilterDatapath(tunnelKey int64) {
	dp, ok := f.datapaths.Delete(&filteredDatapath{tunnelKey: tunnelKey})
	if !ok {
		return
	}

	log.WithFields(log.Fields{"datapath": dp.uuid, "tunnelKey": tunnelKey}).Debug("Unfilter datapath")
	for _, t := range f.tables {
		f.conds.RemoveEqualClause(t, model.DatapathColumn(t), dp.uuid)
	}
	counterDatapathsRemoved.Inc()
	f.updateGauges()
}

// RemoveUnused drops the subscriptions of ports that were not re-filtered
// since MarkUnused and whose datapath is filtered.  Ports that no longer
// resolve through the lookup are kept until a later cycle can place them on
// a datapath.
func (f *Filter) RemoveUnused(ports PortLookup) {
	var unused []*filteredPort
	f.ports.Ascend(func(p *filteredPort) bool {
		if !p.used {
			unused = append(unused, p)
		}
		return true
	})

	for _, p := range unused {
		pb := ports.LookupByName(p.name)
		if pb == nil || pb.Datapath == nil {
			log.WithField("name", p.name).Debug("Unused port doesn't resolve, keeping it for now")
			continue
		}
		if !f.IsDatapathFiltered(pb.Datapath.TunnelKey) {
			continue
		}

		log.WithField("name", p.name).Debug("Unfilter port")
		f.conds.RemoveEqualClause(model.PortBindingTable, model.LogicalPortColumn, p.name)
		f.ports.Delete(p)
		counterPortsRemoved.Inc()
	}
	f.updateGauges()
}

// ManagesTable returns true if the filter adds datapath clauses to the table.
func (f *Filter) ManagesTable(t model.Table) bool {
	for _, ft := range f.tables {
		if ft == t {
			return true
		}
	}
	return false
}

// IsPortFiltered returns true if the named port has its own subscription.
func (f *Filter) IsPortFiltered(name string) bool {
	return f.ports.Has(&filteredPort{name: name})
}

// IsDatapathFiltered returns true if the datapath with the given tunnel key is
// filtered.
func (f *Filter) IsDatapathFiltered(tunnelKey int64) bool {
	return f.datapaths.Has(&filteredDatapath{tunnelKey: tunnelKey})
}

// FilteredPorts returns the port subscriptions sorted by name.
func (f *Filter) FilteredPorts() []PortEntry {
	entries := make([]PortEntry, 0, f.ports.Len())
	f.ports.Ascend(func(p *filteredPort) bool {
		entries = append(entries, PortEntry{Name: p.name, Used: p.used})
		return true
	})
	return entries
}

// FilteredDatapaths returns the datapath subscriptions sorted by tunnel key.
func (f *Filter) FilteredDatapaths() []DatapathEntry {
	entries := make([]DatapathEntry, 0, f.datapaths.Len())
	f.datapaths.Ascend(func(dp *filteredDatapath) bool {
		entries = append(entries, DatapathEntry{TunnelKey: dp.tunnelKey, UUID: dp.uuid})
		return true
	})
	return entries
}

func (f *Filter) updateGauges() {
	gaugeFilteredPorts.Set(float64(f.ports.Len()))
	gaugeFilteredDatapaths.Set(float64(f.datapaths.Len()))
}
