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

// MulticastGroupIndex indexes the replicated Multicast_Group rows by
// (datapath, name).
type MulticastGroupIndex struct {
	byDatapathName map[model.GroupKey]*model.MulticastGroup
}

// BuildMulticastGroupIndex scans every Multicast_Group row, indexing the first
// row seen for each (datapath, name) and taking a registry reference on its
// datapath.  It must be built after the cycle's port index.
func BuildMulticastGroupIndex(rows sbdb.Rows, registry *DatapathRegistry) *MulticastGroupIndex {
	idx := &MulticastGroupIndex{
		byDatapathName: map[model.GroupKey]*model.MulticastGroup{},
	}
	rows.ForEachMulticastGroup(func(mg *model.MulticastGroup) {
		if mg.Datapath == nil {
			registry.dupLog.WithField("name", mg.Name).Warn(
				"Multicast group references a missing datapath, ignoring it")
			counterVecDuplicateRows.WithLabelValues(string(model.MulticastGroupTable), "dangling").Inc()
			return
		}
		key := mg.Key()
		if _, ok := idx.byDatapathName[key]; ok {
			registry.dupLog.WithFields(log.Fields{
				"datapath": mg.Datapath.UUID,
				"name":     mg.Name,
			}).Warn("Datapath contains duplicate multicast group")
			counterVecDuplicateRows.WithLabelValues(string(model.MulticastGroupTable), "name").Inc()
			return
		}
		idx.byDatapathName[key] = mg
		registry.LookupOrCreate(mg.Datapath)
	})
	log.WithField("numGroups", len(idx.byDatapathName)).Debug("Built multicast group index")
	return idx
}

// LookupGroup returns the multicast group with the given name on the given
// datapath, or nil.
func (idx *MulticastGroupIndex) LookupGroup(dp *model.DatapathBinding, name string) *model.MulticastGroup {
	if dp == nil {
		return nil
	}
	return idx.byDatapathName[model.GroupKey{Datapath: dp.UUID, Name: name}]
}

func (idx *MulticastGroupIndex) Len() int {
	return len(idx.byDatapathName)
}

// Teardown releases the index.  Reference counts are left alone; they are
// acted on when the port index is torn down.
func (idx *MulticastGroupIndex) Teardown() {
	idx.byDatapathName = nil
}
