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

package sbdb

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/model"
)

var gaugeVecClauses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sbfilter_condition_clauses",
	Help: "Number of equality clauses in the replication condition of each table.",
}, []string{"table"})

func init() {
	prometheus.MustRegister(gaugeVecClauses)
}

const FunctionEqual = "=="

// Clause is a single "column function value" test.
type Clause struct {
	Column   string
	Function string
	Value    interface{}
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Function, formatValue(c.Value))
}

type clauseKey struct {
	column string
	value  string
}

type heldClause struct {
	Clause
	refs int
}

type tableCondition struct {
	hasFalse bool
	clauses  map[clauseKey]*heldClause
	updated  bool
}

// ConditionSet is an in-memory Conditions implementation.  It records the
// clauses of every table and which tables have changed since the last call to
// TakeUpdated, which is what a database client needs in order to send
// monitor_cond_change requests.
//
// Tables that have never been touched replicate every row.
type ConditionSet struct {
	tables map[model.Table]*tableCondition
	// forgotten holds tables dropped by Forget since the last TakeUpdated.
	forgotten []model.Table
}

func NewConditionSet() *ConditionSet {
	return &ConditionSet{
		tables: map[model.Table]*tableCondition{},
	}
}

func (c *ConditionSet) table(t model.Table) *tableCondition {
	tc, ok := c.tables[t]
	if !ok {
		tc = &tableCondition{clauses: map[clauseKey]*heldClause{}}
		c.tables[t] = tc
	}
	return tc
}

func (c *ConditionSet) AddFalseClause(t model.Table) {
	tc := c.table(t)
	if tc.hasFalse {
		return
	}
	tc.hasFalse = true
	tc.updated = true
}

func (c *ConditionSet) AddEqualClause(t model.Table, column string, value interface{}) {
	tc := c.table(t)
	k := clauseKey{column: column, value: formatValue(value)}
	if hc, ok := tc.clauses[k]; ok {
		hc.refs++
		return
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{"table": t, "column": column, "value": k.value}).Debug("Adding clause")
	}
	tc.clauses[k] = &heldClause{
		Clause: Clause{Column: column, Function: FunctionEqual, Value: value},
		refs:   1,
	}
	tc.updated = true
	gaugeVecClauses.WithLabelValues(string(t)).Set(float64(len(tc.clauses)))
}

func (c *ConditionSet) RemoveEqualClause(t model.Table, column string, value interface{}) {
	tc, ok := c.tables[t]
	if !ok {
		return
	}
	k := clauseKey{column: column, value: formatValue(value)}
	hc, ok := tc.clauses[k]
	if !ok {
		return
	}
	if hc.refs--; hc.refs > 0 {
		return
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{"table": t, "column": column, "value": k.value}).Debug("Removing clause")
	}
	delete(tc.clauses, k)
	tc.updated = true
	gaugeVecClauses.WithLabelValues(string(t)).Set(float64(len(tc.clauses)))
}

// Reset empties the table's condition, leaving it replicating nothing.
func (c *ConditionSet) Reset(t model.Table) {
	tc := c.table(t)
	tc.hasFalse = false
	tc.clauses = map[clauseKey]*heldClause{}
	tc.updated = true
	gaugeVecClauses.WithLabelValues(string(t)).Set(0)
}

// Forget drops every clause of the table and stops tracking it, so that it
// replicates every row again.  The table is reported by the next TakeUpdated.
func (c *ConditionSet) Forget(t model.Table) {
	if _, ok := c.tables[t]; !ok {
		return
	}
	delete(c.tables, t)
	c.forgotten = append(c.forgotten, t)
	gaugeVecClauses.WithLabelValues(string(t)).Set(0)
}

// Refs returns the number of references held on "column == value".
func (c *ConditionSet) Refs(t model.Table, column string, value interface{}) int {
	tc, ok := c.tables[t]
	if !ok {
		return 0
	}
	if hc, ok := tc.clauses[clauseKey{column: column, value: formatValue(value)}]; ok {
		return hc.refs
	}
	return 0
}

// Clauses returns the equality clauses of the table sorted by column and value.
func (c *ConditionSet) Clauses(t model.Table) []Clause {
	tc, ok := c.tables[t]
	if !ok {
		return nil
	}
	keys := make([]clauseKey, 0, len(tc.clauses))
	for k := range tc.clauses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].column != keys[j].column {
			return keys[i].column < keys[j].column
		}
		return keys[i].value < keys[j].value
	})
	clauses := make([]Clause, len(keys))
	for i, k := range keys {
		clauses[i] = tc.clauses[k].Clause
	}
	return clauses
}

// HasClause returns true if the table's condition contains "column == value".
func (c *ConditionSet) HasClause(t model.Table, column string, value interface{}) bool {
	tc, ok := c.tables[t]
	if !ok {
		return false
	}
	_, ok = tc.clauses[clauseKey{column: column, value: formatValue(value)}]
	return ok
}

// HasFalseClause returns true if the table's condition contains the false clause.
func (c *ConditionSet) HasFalseClause(t model.Table) bool {
	tc, ok := c.tables[t]
	return ok && tc.hasFalse
}

// Tables returns the tables that have a condition, sorted by name.
func (c *ConditionSet) Tables() []model.Table {
	tables := make([]model.Table, 0, len(c.tables))
	for t := range c.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })
	return tables
}

// TakeUpdated returns the tables whose condition changed since the previous
// call, sorted by name, and clears their updated flags.
func (c *ConditionSet) TakeUpdated() []model.Table {
	seen := map[model.Table]bool{}
	var updated []model.Table
	for _, t := range c.forgotten {
		if !seen[t] {
			seen[t] = true
			updated = append(updated, t)
		}
	}
	c.forgotten = nil
	for t, tc := range c.tables {
		if tc.updated {
			tc.updated = false
			if !seen[t] {
				seen[t] = true
				updated = append(updated, t)
			}
		}
	}
	sort.Slice(updated, func(i, j int) bool { return updated[i] < updated[j] })
	return updated
}

// Where renders the table's condition as an RFC 7047 where-list.  Untracked
// tables render as [true] and tables without equality clauses as [false].
func (c *ConditionSet) Where(t model.Table) []interface{} {
	tc, ok := c.tables[t]
	if !ok {
		return []interface{}{true}
	}
	if len(tc.clauses) == 0 {
		return []interface{}{false}
	}
	var where []interface{}
	for _, cl := range c.Clauses(t) {
		where = append(where, []interface{}{cl.Column, cl.Function, jsonValue(cl.Value)})
	}
	return where
}

// CondChangeRequest builds the body of a monitor_cond_change request that
// updates the given tables' conditions.
func (c *ConditionSet) CondChangeRequest(tables []model.Table) map[string][]map[string]interface{} {
	req := map[string][]map[string]interface{}{}
	for _, t := range tables {
		req[string(t)] = []map[string]interface{}{{"where": c.Where(t)}}
	}
	return req
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case uuid.UUID:
		return "uuid:" + v.String()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func jsonValue(v interface{}) interface{} {
	if id, ok := v.(uuid.UUID); ok {
		return []interface{}{"uuid", id.String()}
	}
	return v
}
