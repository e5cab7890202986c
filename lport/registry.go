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

package lport

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/logutils"
	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

var (
	gaugeNumDatapaths = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbfilter_registry_datapaths",
		Help: "Number of logical datapaths referenced by local ports and multicast groups.",
	})
	counterVecDatapathChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbfilter_registry_datapath_changes",
		Help: "Number of logical datapaths added to or removed from the registry.",
	}, []string{"op"})
	counterDatapathsAdded    = counterVecDatapathChanges.WithLabelValues("add")
	counterDatapathsRemoved  = counterVecDatapathChanges.WithLabelValues("remove")
	counterDatapathsVanished = counterVecDatapathChanges.WithLabelValues("vanished")

	counterVecDuplicateRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbfilter_index_rows_dropped",
		Help: "Number of rows left out of an index because of a duplicate or dangling identity.",
	}, []string{"table", "reason"})
)

func init() {
	prometheus.MustRegister(
		gaugeNumDatapaths,
		counterVecDatapathChanges,
		counterVecDuplicateRows,
	)
}

// DefaultRegistryTables are the tables that get a clause for every
// registered datapath.
var DefaultRegistryTables = []model.Table{
	model.PortBindingTable,
	model.LogicalFlowTable,
	model.MulticastGroupTable,
}

// LogicalDatapath is a datapath that is in use by at least one indexed port
// or multicast group.
type LogicalDatapath struct {
	UUID      uuid.UUID
	TunnelKey int64
	// RefCount is the number of ports and multicast groups in the current
	// index build that reference the datapath.
	RefCount int
}

// DatapathRegistry is the reference counted set of locally relevant logical
// datapaths.  It is not safe for concurrent use.
type DatapathRegistry struct {
	conds     sbdb.Conditions
	tables    []model.Table
	datapaths map[uuid.UUID]*LogicalDatapath

	dupLog *logutils.RateLimitedLogger
}

type RegistryOption func(*DatapathRegistry)

// WithDependentTables overrides the tables that get a clause per datapath.
func WithDependentTables(tables ...model.Table) RegistryOption {
	return func(r *DatapathRegistry) {
		r.tables = tables
	}
}

// WithDuplicateLogger sets the logger used to report duplicate rows found
// while building the indexes.
func WithDuplicateLogger(l *logutils.RateLimitedLogger) RegistryOption {
	return func(r *DatapathRegistry) {
		r.dupLog = l
	}
}

func NewDatapathRegistry(conds sbdb.Conditions, opts ...RegistryOption) *DatapathRegistry {
	r := &DatapathRegistry{
		conds:     conds,
		tables:    DefaultRegistryTables,
		datapaths: map[uuid.UUID]*LogicalDatapath{},
		dupLog:    logutils.NewRateLimitedLogger(logutils.OptInterval(time.Second)),
	}
	for _, o := range opts {
		o(r)
	}
	for _, t := range r.tables {
		if !model.IsDatapathScoped(t) {
			log.WithField("table", t).Panic("Registry table is not scoped to a datapath")
		}
	}
	return r
}

// LookupOrCreate returns the registry entry for the given datapath row,
// creating it if needed, and takes a reference on it.  Creating an entry adds
// a clause for the datapath to each dependent table.
func (r *DatapathRegistry) LookupOrCreate(dp *model.DatapathBinding) *LogicalDatapath {
	ldp, ok := r.datapaths[dp.UUID]
	if !ok {
		ldp = &LogicalDatapath{UUID: dp.UUID, TunnelKey: dp.TunnelKey}
		r.datapaths[dp.UUID] = ldp
		log.WithFields(log.Fields{
			"datapath":  dp.UUID,
			"tunnelKey": dp.TunnelKey,
		}).Info("Adding logical datapath")
		for _, t := range r.tables {
			r.conds.AddEqualClause(t, model.DatapathColumn(t), dp.UUID)
		}
		counterDatapathsAdded.Inc()
		gaugeNumDatapaths.Set(float64(len(r.datapaths)))
	}
	ldp.RefCount++
	return ldp
}

// Lookup returns the entry for the datapath with the given UUID, or nil.
func (r *DatapathRegistry) Lookup(id uuid.UUID) *LogicalDatapath {
	return r.datapaths[id]
}

// Tables returns the dependent tables.
func (r *DatapathRegistry) Tables() []model.Table {
	return r.tables
}

func (r *DatapathRegistry) Len() int {
	return len(r.datapaths)
}

// ClearRefCounts zeroes every reference count.  Called once per cycle before
// the indexes are built.
func (r *DatapathRegistry) ClearRefCounts() {
	for _, ldp := range r.datapaths {
		ldp.RefCount = 0
	}
}

// ReclaimUnused removes every entry whose reference count is zero.  If the
// datapath row still exists, its clauses are removed from the dependent
// tables; otherwise the row's deletion has already taken care of them.
func (r *DatapathRegistry) ReclaimUnused(rows sbdb.Rows) {
	for id, ldp := range r.datapaths {
		if ldp.RefCount > 0 {
			continue
		}
		logCxt := log.WithFields(log.Fields{"datapath": id, "tunnelKey": ldp.TunnelKey})
		if dp := rows.GetDatapathByUUID(id); dp != nil {
			logCxt.Info("Removing logical datapath")
			for _, t := range r.tables {
				r.conds.RemoveEqualClause(t, model.DatapathColumn(t), dp.UUID)
			}
			counterDatapathsRemoved.Inc()
		} else {
			logCxt.Debug("Logical datapath row is gone, forgetting it")
			counterDatapathsVanished.Inc()
		}
		delete(r.datapaths, id)
	}
	gaugeNumDatapaths.Set(float64(len(r.datapaths)))
}

// Clear forgets every datapath without touching the conditions.  The caller
// is expected to reset the conditions itself.
func (r *DatapathRegistry) Clear() {
	r.datapaths = map[uuid.UUID]*LogicalDatapath{}
	gaugeNumDatapaths.Set(0)
}

// Datapaths returns a copy of every entry, in no particular order.
func (r *DatapathRegistry) Datapaths() []LogicalDatapath {
	dps := make([]LogicalDatapath, 0, len(r.datapaths))
	for _, ldp := range r.datapaths {
		dps = append(dps, *ldp)
	}
	return dps
}
