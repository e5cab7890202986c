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

// Package sbdb defines what the filter needs from the southbound database
// client: iteration over the replicated rows, lookup of datapaths by UUID and
// the per-table replication conditions.  It also provides in-memory
// implementations of both, which back the tests and the replay tool.
package sbdb

import (
	"github.com/google/uuid"

	"github.com/projectcalico/sbfilter/model"
)

// Conditions is the set of replication conditions held by the database
// client.  Each table's condition is a disjunction of clauses: a row is
// replicated if it matches any of them.  Changes are local; the client sends
// them to the server on its own schedule.
type Conditions interface {
	// AddFalseClause adds the "replicate nothing" clause to the table.
	AddFalseClause(table model.Table)
	// AddEqualClause adds a "column == value" clause to the table.  Each call
	// takes a reference on the clause; the registry and the filter may both
	// hold the same clause.
	AddEqualClause(table model.Table, column string, value interface{})
	// RemoveEqualClause drops a reference taken by AddEqualClause.  The clause
	// leaves the condition when its last reference goes.  It is a no-op if
	// there is no such clause.
	RemoveEqualClause(table model.Table, column string, value interface{})
	// Reset removes every clause from the table's condition.
	Reset(table model.Table)
	// Forget removes the table's condition altogether, so that the client
	// replicates all of its rows again.
	Forget(table model.Table)
}

// Rows gives access to the rows currently replicated by the client.
type Rows interface {
	ForEachPortBinding(f func(pb *model.PortBinding))
	ForEachMulticastGroup(f func(mg *model.MulticastGroup))
	// GetDatapathByUUID returns the Datapath_Binding row with the given UUID
	// or nil if there is no such row.
	GetDatapathByUUID(id uuid.UUID) *model.DatapathBinding
}

var (
	_ Conditions = (*ConditionSet)(nil)
	_ Rows       = (*Store)(nil)
)
