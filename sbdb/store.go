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
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/model"
)

// Store is an in-memory Rows implementation.  Rows are iterated in insertion
// order.  Deleting a datapath leaves the rows that referenced it with a nil
// Datapath, like a dangling reference in the client's replica.
type Store struct {
	datapaths map[uuid.UUID]*model.DatapathBinding
	ports     []*model.PortBinding
	groups    []*model.MulticastGroup
}

func NewStore() *Store {
	return &Store{
		datapaths: map[uuid.UUID]*model.DatapathBinding{},
	}
}

func (s *Store) AddDatapath(dp *model.DatapathBinding) {
	if dp.UUID == uuid.Nil {
		dp.UUID = uuid.New()
	}
	s.datapaths[dp.UUID] = dp
}

// DeleteDatapath removes the datapath and clears the references to it.
// Returns false if there was no such datapath.
func (s *Store) DeleteDatapath(id uuid.UUID) bool {
	dp, ok := s.datapaths[id]
	if !ok {
		return false
	}
	delete(s.datapaths, id)
	for _, pb := range s.ports {
		if pb.Datapath == dp {
			pb.Datapath = nil
		}
	}
	for _, mg := range s.groups {
		if mg.Datapath == dp {
			mg.Datapath = nil
		}
	}
	log.WithField("datapath", dp).Debug("Deleted datapath row")
	return true
}

func (s *Store) AddPortBinding(pb *model.PortBinding) {
	if pb.UUID == uuid.Nil {
		pb.UUID = uuid.New()
	}
	s.ports = append(s.ports, pb)
}

// DeletePortBinding removes the port binding with the given UUID.  Returns
// false if there was no such row.
func (s *Store) DeletePortBinding(id uuid.UUID) bool {
	for i, pb := range s.ports {
		if pb.UUID == id {
			s.ports = append(s.ports[:i], s.ports[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) AddMulticastGroup(mg *model.MulticastGroup) {
	if mg.UUID == uuid.Nil {
		mg.UUID = uuid.New()
	}
	s.groups = append(s.groups, mg)
}

// DeleteMulticastGroup removes the group with the given UUID.  Returns false
// if there was no such row.
func (s *Store) DeleteMulticastGroup(id uuid.UUID) bool {
	for i, mg := range s.groups {
		if mg.UUID == id {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) ForEachPortBinding(f func(pb *model.PortBinding)) {
	for _, pb := range s.ports {
		f(pb)
	}
}

func (s *Store) ForEachMulticastGroup(f func(mg *model.MulticastGroup)) {
	for _, mg := range s.groups {
		f(mg)
	}
}

func (s *Store) GetDatapathByUUID(id uuid.UUID) *model.DatapathBinding {
	return s.datapaths[id]
}

// NumDatapaths, NumPortBindings and NumMulticastGroups return the row counts.
func (s *Store) NumDatapaths() int       { return len(s.datapaths) }
func (s *Store) NumPortBindings() int    { return len(s.ports) }
func (s *Store) NumMulticastGroups() int { return len(s.groups) }
