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

package filter_test

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/projectcalico/sbfilter/filter"
	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/testutils"
)

// mockPorts is a PortLookup backed by a map.
type mockPorts map[string]*model.PortBinding

func (m mockPorts) LookupByName(name string) *model.PortBinding {
	return m[name]
}

func portOn(name string, dp *model.DatapathBinding) *model.PortBinding {
	return &model.PortBinding{UUID: uuid.New(), LogicalPort: name, Datapath: dp, TunnelKey: 1}
}

var _ = Describe("Filter", func() {
	var (
		conds  *testutils.RecordingConditions
		f      *Filter
		d1, d2 *model.DatapathBinding
		ports  mockPorts
	)

	BeforeEach(func() {
		conds = testutils.NewRecordingConditions()
		f = New(conds)
		d1 = &model.DatapathBinding{UUID: uuid.New(), TunnelKey: 1}
		d2 = &model.DatapathBinding{UUID: uuid.New(), TunnelKey: 2}
		ports = mockPorts{}
	})

	It("should replicate nothing after Init", func() {
		f.Init()
		for _, t := range DefaultTables {
			Expect(conds.HasFalseClause(t)).To(BeTrue(), fmt.Sprintf("table %s", t))
			Expect(conds.Where(t)).To(Equal([]interface{}{false}))
		}
		Expect(conds.Where(model.DatapathBindingTable)).To(Equal([]interface{}{true}))
	})

	Describe("FilterLogicalPort", func() {
		It("should add one clause on the logical port", func() {
			f.FilterLogicalPort("lsp1")
			Expect(conds.CallsWithOp(testutils.OpAdd)).To(Equal([]testutils.ClauseCall{
				{Op: testutils.OpAdd, Table: model.PortBindingTable, Column: model.LogicalPortColumn, Value: "lsp1"},
			}))
			Expect(f.IsPortFiltered("lsp1")).To(BeTrue())
			Expect(f.IsPortFiltered("lsp2")).To(BeFalse())
		})

		It("should be idempotent", func() {
			f.FilterLogicalPort("lsp1")
			f.FilterLogicalPort("lsp1")
			Expect(conds.CallsWithOp(testutils.OpAdd)).To(HaveLen(1))
			Expect(f.FilteredPorts()).To(Equal([]PortEntry{{Name: "lsp1", Used: true}}))
		})
	})

	Describe("FilterDatapath", func() {
		It("should add a clause on each managed table", func() {
			f.FilterDatapath(d1)
			Expect(conds.CallsWithOp(testutils.OpAdd)).To(ConsistOf(
				testutils.ClauseCall{Op: testutils.OpAdd, Table: model.PortBindingTable, Column: "datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpAdd, Table: model.MacBindingTable, Column: "datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpAdd, Table: model.LogicalFlowTable, Column: "logical_datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpAdd, Table: model.MulticastGroupTable, Column: "datapath", Value: d1.UUID},
			))
			Expect(f.IsDatapathFiltered(1)).To(BeTrue())
		})

		It("should be idempotent per tunnel key", func() {
			f.FilterDatapath(d1)
			f.FilterDatapath(d1)
			f.FilterDatapath(&model.DatapathBinding{UUID: uuid.New(), TunnelKey: 1})
			Expect(conds.CallsWithOp(testutils.OpAdd)).To(HaveLen(4))
			Expect(f.FilteredDatapaths()).To(Equal([]DatapathEntry{{TunnelKey: 1, UUID: d1.UUID}}))
		})

		It("should only touch the configured tables", func() {
			f = New(conds, WithTables(model.LogicalFlowTable))
			f.FilterDatapath(d1)
			Expect(conds.CallsWithOp(testutils.OpAdd)).To(Equal([]testutils.ClauseCall{
				{Op: testutils.OpAdd, Table: model.LogicalFlowTable, Column: "logical_datapath", Value: d1.UUID},
			}))
		})

		It("should panic when given a table without a datapath column", func() {
			Expect(func() { New(conds, WithTables(model.DatapathBindingTable)) }).To(Panic())
		})
	})

	Describe("UnfilterDatapath", func() {
		It("should ignore unknown tunnel keys", func() {
			f.UnfilterDatapath(7)
			Expect(conds.Calls).To(BeEmpty())
		})

		It("should remove the clauses it added", func() {
			f.FilterDatapath(d1)
			f.UnfilterDatapath(1)
			Expect(conds.CallsWithOp(testutils.OpRemove)).To(ConsistOf(
				testutils.ClauseCall{Op: testutils.OpRemove, Table: model.PortBindingTable, Column: "datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpRemove, Table: model.MacBindingTable, Column: "datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpRemove, Table: model.LogicalFlowTable, Column: "logical_datapath", Value: d1.UUID},
				testutils.ClauseCall{Op: testutils.OpRemove, Table: model.MulticastGroupTable, Column: "datapath", Value: d1.UUID},
			))
			Expect(f.IsDatapathFiltered(1)).To(BeFalse())
		})

		It("should leave the conditions as they were before the filter", func() {
			f.Init()
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d2)
			before := conds.Snapshot(DefaultTables...)

			f.FilterDatapath(d1)
			Expect(conds.Snapshot(DefaultTables...)).NotTo(Equal(before))
			f.UnfilterDatapath(1)
			Expect(cmp.Diff(before, conds.Snapshot(DefaultTables...))).To(BeEmpty())
		})
	})

	Describe("RemoveUnused", func() {
		BeforeEach(func() {
			ports["lsp1"] = portOn("lsp1", d1)
			ports["lsp2"] = portOn("lsp2", d2)
		})

		It("should keep ports that were re-filtered", func() {
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			f.MarkUnused()
			f.FilterLogicalPort("lsp1")
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp1")).To(BeTrue())
			Expect(conds.CallsWithOp(testutils.OpRemove)).To(BeEmpty())
		})

		It("should keep unused ports whose datapath isn't filtered", func() {
			f.FilterLogicalPort("lsp2")
			f.FilterDatapath(d1)
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp2")).To(BeTrue())
			Expect(f.FilteredPorts()).To(Equal([]PortEntry{{Name: "lsp2", Used: false}}))
		})

		It("should remove unused ports whose datapath is filtered", func() {
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			conds.ClearCalls()
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp1")).To(BeFalse())
			Expect(conds.Calls).To(Equal([]testutils.ClauseCall{
				{Op: testutils.OpRemove, Table: model.PortBindingTable, Column: model.LogicalPortColumn, Value: "lsp1"},
			}))
			Expect(conds.HasClause(model.PortBindingTable, "datapath", d1.UUID)).To(BeTrue())
		})

		It("should defer removal of ports that no longer resolve", func() {
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			delete(ports, "lsp1")
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp1")).To(BeTrue())
			Expect(conds.HasClause(model.PortBindingTable, model.LogicalPortColumn, "lsp1")).To(BeTrue())

			// Once the port shows up again, the next sweep removes it.
			ports["lsp1"] = portOn("lsp1", d1)
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp1")).To(BeFalse())
		})

		It("should defer removal of ports without a datapath", func() {
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			ports["lsp1"] = portOn("lsp1", nil)
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(f.IsPortFiltered("lsp1")).To(BeTrue())
		})

		It("should drop the redundant port subscription once the datapath is filtered", func() {
			f.Init()
			// Cycle 1: local port, datapath not yet known.
			f.MarkUnused()
			f.FilterLogicalPort("lsp1")
			f.RemoveUnused(ports)
			Expect(conds.HasClause(model.PortBindingTable, model.LogicalPortColumn, "lsp1")).To(BeTrue())

			// Cycle 2: the datapath gets filtered, and the port stays local.
			f.MarkUnused()
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			f.RemoveUnused(ports)
			Expect(conds.HasClause(model.PortBindingTable, model.LogicalPortColumn, "lsp1")).To(BeTrue())

			// Cycle 3: the port is no longer needed by name.
			f.MarkUnused()
			f.RemoveUnused(ports)
			Expect(conds.HasClause(model.PortBindingTable, model.LogicalPortColumn, "lsp1")).To(BeFalse())
			Expect(conds.HasClause(model.PortBindingTable, "datapath", d1.UUID)).To(BeTrue())
		})
	})

	DescribeTable("mark and sweep keeps exactly the re-filtered ports",
		func(initial, refiltered, expected []string) {
			for _, name := range initial {
				ports[name] = portOn(name, d1)
				f.FilterLogicalPort(name)
			}
			f.FilterDatapath(d1)
			f.MarkUnused()
			for _, name := range refiltered {
				if ports[name] == nil {
					ports[name] = portOn(name, d1)
				}
				f.FilterLogicalPort(name)
			}
			f.RemoveUnused(ports)

			var names []string
			for _, p := range f.FilteredPorts() {
				Expect(p.Used).To(BeTrue())
				names = append(names, p.Name)
			}
			Expect(names).To(Equal(expected))
			for _, name := range expected {
				Expect(conds.HasClause(model.PortBindingTable, model.LogicalPortColumn, name)).To(BeTrue())
			}
		},
		Entry("empty set", []string{"a", "b"}, nil, nil),
		Entry("same set", []string{"a", "b"}, []string{"a", "b"}, []string{"a", "b"}),
		Entry("subset", []string{"a", "b", "c"}, []string{"b"}, []string{"b"}),
		Entry("new ports", []string{"a"}, []string{"b", "c"}, []string{"b", "c"}),
		Entry("overlap", []string{"a", "b"}, []string{"b", "c"}, []string{"b", "c"}),
	)

	Describe("Clear", func() {
		It("should reset to the Init state", func() {
			f.Init()
			initial := conds.Snapshot(DefaultTables...)
			f.FilterLogicalPort("lsp1")
			f.FilterDatapath(d1)
			f.Clear()
			Expect(f.FilteredPorts()).To(BeEmpty())
			Expect(f.FilteredDatapaths()).To(BeEmpty())
			Expect(conds.Snapshot(DefaultTables...)).To(Equal(initial))
			Expect(conds.CallsWithOp(testutils.OpReset)).To(HaveLen(len(DefaultTables)))
		})
	})

	It("should report the number of subscriptions", func() {
		f.FilterLogicalPort("lsp1")
		f.FilterLogicalPort("lsp2")
		f.FilterDatapath(d1)
		Expect(testutil.ToFloat64(GaugeFilteredPorts())).To(Equal(2.0))
		Expect(testutil.ToFloat64(GaugeFilteredDatapaths())).To(Equal(1.0))
	})
})
