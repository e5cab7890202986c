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

package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Table names a southbound database table.
type Table string

const (
	DatapathBindingTable Table = "Datapath_Binding"
	PortBindingTable     Table = "Port_Binding"
	MacBindingTable      Table = "Mac_Binding"
	LogicalFlowTable     Table = "Logical_Flow"
	MulticastGroupTable  Table = "Multicast_Group"
)

const (
	// LogicalPortColumn is the Port_Binding column holding the logical port name.
	LogicalPortColumn         = "logical_port"
	DatapathColumnName        = "datapath"
	LogicalDatapathColumnName = "logical_datapath"
)

// DatapathScopedTables lists the tables whose rows belong to a single logical
// datapath, in the order that clauses are applied to them.
var DatapathScopedTables = []Table{
	PortBindingTable,
	MacBindingTable,
	LogicalFlowTable,
	MulticastGroupTable,
}

// DatapathColumn returns the column of the given table that references the
// owning Datapath_Binding row.  Returns "" for tables that are not scoped to a
// datapath.
func DatapathColumn(t Table) string {
	switch t {
	case PortBindingTable, MacBindingTable, MulticastGroupTable:
		return DatapathColumnName
	case LogicalFlowTable:
		return LogicalDatapathColumnName
	}
	return ""
}

// IsDatapathScoped returns true if rows of the table are scoped to a datapath.
func IsDatapathScoped(t Table) bool {
	return DatapathColumn(t) != ""
}

// DatapathBinding is a row of the Datapath_Binding table: one logical switch
// or logical router.
type DatapathBinding struct {
	UUID        uuid.UUID         `json:"uuid"`
	TunnelKey   int64             `json:"tunnelKey"`
	ExternalIDs map[string]string `json:"externalIDs,omitempty"`
}

func (d *DatapathBinding) String() string {
	return fmt.Sprintf("Datapath(%s, key=%d)", d.UUID, d.TunnelKey)
}

// PortBinding is a row of the Port_Binding table.  Datapath points at the
// row's owning DatapathBinding; it is nil if the reference is dangling.
type PortBinding struct {
	UUID        uuid.UUID         `json:"uuid"`
	LogicalPort string            `json:"logicalPort"`
	TunnelKey   int64             `json:"tunnelKey"`
	Datapath    *DatapathBinding  `json:"-"`
	ParentPort  string            `json:"parentPort,omitempty"`
	Type        string            `json:"type,omitempty"`
	Chassis     string            `json:"chassis,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Key returns the (datapath tunnel key, port tunnel key) pair of the port.
// The port's datapath must be non-nil.
func (p *PortBinding) Key() PortKey {
	return PortKey{DatapathKey: p.Datapath.TunnelKey, PortKey: p.TunnelKey}
}

func (p *PortBinding) String() string {
	return fmt.Sprintf("PortBinding(%s, key=%d)", p.LogicalPort, p.TunnelKey)
}

// MulticastGroup is a row of the Multicast_Group table.
type MulticastGroup struct {
	UUID      uuid.UUID        `json:"uuid"`
	Name      string           `json:"name"`
	TunnelKey int64            `json:"tunnelKey"`
	Datapath  *DatapathBinding `json:"-"`
	Ports     []string         `json:"ports,omitempty"`
}

// Key returns the (datapath, name) identity of the group.  The group's
// datapath must be non-nil.
func (m *MulticastGroup) Key() GroupKey {
	return GroupKey{Datapath: m.Datapath.UUID, Name: m.Name}
}

func (m *MulticastGroup) String() string {
	return fmt.Sprintf("MulticastGroup(%s)", m.Name)
}

// PortKey identifies a logical port by the tunnel keys of its datapath and of
// the port itself.
type PortKey struct {
	DatapathKey int64
	PortKey     int64
}

func (k PortKey) String() string {
	return fmt.Sprintf("%d/%d", k.DatapathKey, k.PortKey)
}

// GroupKey identifies a multicast group within its datapath.
type GroupKey struct {
	Datapath uuid.UUID
	Name     string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Datapath, k.Name)
}
