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
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

// PortIndex indexes the replicated Port_Binding rows by logical port name and
// by (datapath tunnel key, port tunnel key).  Both maps point at the same
// rows.
type PortIndex struct {
	registry *DatapathRegistry
	byName   map[string]*model.PortBinding
	byKey    map[model.PortKey]*model.PortBinding
}

// BuildPortIndex scans every Port_Binding row, indexing the first row seen
// for each name and key and taking a registry reference on its datapath.
// Later rows that repeat a name or key are logged and skipped.
//
// Building the port index resets the registry's reference counts, so it must
// be the first index built in a cycle.
func BuildPortIndex(rows sbdb.Rows, registry *DatapathRegistry) *PortIndex {
	registry.ClearRefCounts()

	idx := &PortIndex{
		registry: registry,
		byName:   map[string]*model.PortBinding{},
		byKey:    map[model.PortKey]*model.PortBinding{},
	}
	rows.ForEachPortBinding(func(pb *model.PortBinding) {
		if pb.Datapath == nil {
			registry.dupLog.WithField("name", pb.LogicalPort).Warn(
				"Logical port references a missing datapath, ignoring it")
			counterVecDuplicateRows.WithLabelValues(string(model.PortBindingTable), "dangling").Inc()
			return
		}
		if _, ok := idx.byName[pb.LogicalPort]; ok {
			registry.dupLog.WithField("name", pb.LogicalPort).Warn("Duplicate logical port name")
			counterVecDuplicateRows.WithLabelValues(string(model.PortBindingTable), "name").Inc()
			return
		}
		key := pb.Key()
		if other, ok := idx.byKey[key]; ok {
			registry.dupLog.WithFields(log.Fields{
				"name":      pb.LogicalPort,
				"key":       key,
				"firstName": other.LogicalPort,
			}).Warn("Duplicate logical port tunnel key")
			counterVecDuplicateRows.WithLabelValues(string(model.PortBindingTable), "key").Inc()
			return
		}
		idx.byName[pb.LogicalPort] = pb
		idx.byKey[key] = pb
		registry.LookupOrCreate(pb.Datapath)
	})
	log.WithField("numPorts", len(idx.byName)).Debug("Built logical port index")
	return idx
}

// LookupByName returns the port binding with the given logical port name, or
// nil.
func (idx *PortIndex) LookupByName(name string) *model.PortBinding {
	return idx.byName[name]
}

// LookupByKey returns the port binding with the given datapath and port
// tunnel keys, or nil.
func (idx *PortIndex) LookupByKey(dpKey, portKey int64) *model.PortBinding {
	return idx.byKey[model.PortKey{DatapathKey: dpKey, PortKey: portKey}]
}

func (idx *PortIndex) Len() int {
	return len(idx.byName)
}

// Teardown releases the index and then reclaims the datapaths that no port or
// multicast group referenced in this cycle.  Any multicast group index built
// in the same cycle must be torn down first.
func (idx *PortIndex) Teardown(rows sbdb.Rows) {
	idx.byName = nil
	idx.byKey = nil
	idx.registry.ReclaimUnused(rows)
}
