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

package testutils

import (
	"fmt"

	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

// ClauseCall records one call made on a RecordingConditions.
type ClauseCall struct {
	Op     string
	Table  model.Table
	Column string
	Value  interface{}
}

func (c ClauseCall) String() string {
	return fmt.Sprintf("%s %s.%s=%v", c.Op, c.Table, c.Column, c.Value)
}

const (
	OpAddFalse = "add-false"
	OpAdd      = "add"
	OpRemove   = "remove"
	OpReset    = "reset"
	OpForget   = "forget"
)

// RecordingConditions is a sbdb.Conditions that records every call before
// passing it on to an in-memory ConditionSet.
type RecordingConditions struct {
	*sbdb.ConditionSet
	Calls []ClauseCall
}

func NewRecordingConditions() *RecordingConditions {
	return &RecordingConditions{ConditionSet: sbdb.NewConditionSet()}
}

func (r *RecordingConditions) AddFalseClause(t model.Table) {
	r.Calls = append(r.Calls, ClauseCall{Op: OpAddFalse, Table: t})
	r.ConditionSet.AddFalseClause(t)
}

func (r *RecordingConditions) AddEqualClause(t model.Table, column string, value interface{}) {
	r.Calls = append(r.Calls, ClauseCall{Op: OpAdd, Table: t, Column: column, Value: value})
	r.ConditionSet.AddEqualClause(t, column, value)
}

func (r *RecordingConditions) RemoveEqualClause(t model.Table, column string, value interface{}) {
	r.Calls = append(r.Calls, ClauseCall{Op: OpRemove, Table: t, Column: column, Value: value})
	r.ConditionSet.RemoveEqualClause(t, column, value)
}

func (r *RecordingConditions) Reset(t model.Table) {
	r.Calls = append(r.Calls, ClauseCall{Op: OpReset, Table: t})
	r.ConditionSet.Reset(t)
}

func (r *RecordingConditions) Forget(t model.Table) {
	r.Calls = append(r.Calls, ClauseCall{Op: OpForget, Table: t})
	r.ConditionSet.Forget(t)
}

// CallsWithOp returns the recorded calls with the given op.
func (r *RecordingConditions) CallsWithOp(op string) []ClauseCall {
	var calls []ClauseCall
	for _, c := range r.Calls {
		if c.Op == op {
			calls = append(calls, c)
		}
	}
	return calls
}

// ClearCalls forgets the recorded calls but keeps the conditions.
func (r *RecordingConditions) ClearCalls() {
	r.Calls = nil
}

// Snapshot returns the where-list of each of the given tables, for comparing
// condition states.
func (r *RecordingConditions) Snapshot(tables ...model.Table) map[model.Table][]interface{} {
	snap := map[model.Table][]interface{}{}
	for _, t := range tables {
		snap[t] = r.Where(t)
	}
	return snap
}
