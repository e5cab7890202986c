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

package scenario

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/projectcalico/sbfilter/controller"
	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
)

// Player applies a scenario's row changes to an in-memory store and turns
// each cycle into a controller.CycleInput.  Row UUIDs are derived from the
// row names so that replays are repeatable.
type Player struct {
	store *sbdb.Store

	datapaths map[string]*model.DatapathBinding
	// tunnelKeys remembers the key of every datapath ever added, so that a
	// deleted datapath can still be unfiltered by name.
	tunnelKeys map[string]int64
	ports      map[string]uuid.UUID
	groups     map[string]uuid.UUID
}

func NewPlayer(s *Scenario) (*Player, error) {
	p := &Player{
		store:      sbdb.NewStore(),
		datapaths:  map[string]*model.DatapathBinding{},
		tunnelKeys: map[string]int64{},
		ports:      map[string]uuid.UUID{},
		groups:     map[string]uuid.UUID{},
	}
	if err := p.addRows(Rows{Datapaths: s.Datapaths, Ports: s.Ports, Groups: s.Groups}); err != nil {
		return nil, errors.WithMessage(err, "initial rows")
	}
	return p, nil
}

// Store returns the rows as they stand after the last applied cycle.
func (p *Player) Store() *sbdb.Store {
	return p.store
}

// Apply applies the cycle's deletes, then its adds, and returns the cycle's
// input for the controller.
func (p *Player) Apply(c Cycle) (controller.CycleInput, error) {
	var in controller.CycleInput
	if err := p.deleteRows(c.Delete); err != nil {
		return in, errors.WithMessagef(err, "cycle %q", c.Name)
	}
	if err := p.addRows(c.Add); err != nil {
		return in, errors.WithMessagef(err, "cycle %q", c.Name)
	}

	in.LocalPorts = c.LocalPorts
	in.FilterLocalDatapaths = c.FilterLocalDatapaths
	for _, name := range c.FilterDatapaths {
		dp, ok := p.datapaths[name]
		if !ok {
			return in, errors.Errorf("cycle %q: can't filter unknown datapath %q", c.Name, name)
		}
		in.FilterDatapaths = append(in.FilterDatapaths, dp)
	}
	for _, name := range c.UnfilterDatapaths {
		key, ok := p.tunnelKeys[name]
		if !ok {
			return in, errors.Errorf("cycle %q: can't unfilter unknown datapath %q", c.Name, name)
		}
		in.UnfilterDatapaths = append(in.UnfilterDatapaths, key)
	}
	return in, nil
}

// DatapathName returns the scenario name of the datapath with the given UUID.
func (p *Player) DatapathName(id uuid.UUID) string {
	for name := range p.tunnelKeys {
		if rowUUID("datapath", name) == id {
			return name
		}
	}
	return id.String()
}

func (p *Player) addRows(rows Rows) error {
	for _, d := range rows.Datapaths {
		if d.Name == "" {
			return errors.New("datapath without a name")
		}
		if _, ok := p.datapaths[d.Name]; ok {
			return errors.Errorf("datapath %q already exists", d.Name)
		}
		dp := &model.DatapathBinding{
			UUID:        rowUUID("datapath", d.Name),
			TunnelKey:   d.TunnelKey,
			ExternalIDs: d.ExternalIDs,
		}
		p.store.AddDatapath(dp)
		p.datapaths[d.Name] = dp
		p.tunnelKeys[d.Name] = d.TunnelKey
	}
	for _, port := range rows.Ports {
		id := port.RowID()
		if _, ok := p.ports[id]; ok {
			return errors.Errorf("port row %q already exists", id)
		}
		dp, err := p.lookupDatapath(port.Datapath)
		if err != nil {
			return errors.WithMessagef(err, "port %q", id)
		}
		pb := &model.PortBinding{
			UUID:        rowUUID("port", id),
			LogicalPort: port.Name,
			TunnelKey:   port.TunnelKey,
			Datapath:    dp,
			Type:        port.Type,
			Chassis:     port.Chassis,
		}
		p.store.AddPortBinding(pb)
		p.ports[id] = pb.UUID
	}
	for _, g := range rows.Groups {
		id := g.RowID()
		if _, ok := p.groups[id]; ok {
			return errors.Errorf("multicast group row %q already exists", id)
		}
		dp, err := p.lookupDatapath(g.Datapath)
		if err != nil {
			return errors.WithMessagef(err, "multicast group %q", id)
		}
		mg := &model.MulticastGroup{
			UUID:      rowUUID("group", id),
			Name:      g.Name,
			TunnelKey: g.TunnelKey,
			Datapath:  dp,
			Ports:     g.Ports,
		}
		p.store.AddMulticastGroup(mg)
		p.groups[id] = mg.UUID
	}
	return nil
}

func (p *Player) deleteRows(refs RowRefs) error {
	for _, id := range refs.Ports {
		portUUID, ok := p.ports[id]
		if !ok {
			return errors.Errorf("can't delete unknown port row %q", id)
		}
		p.store.DeletePortBinding(portUUID)
		delete(p.ports, id)
	}
	for _, id := range refs.Groups {
		groupUUID, ok := p.groups[id]
		if !ok {
			return errors.Errorf("can't delete unknown multicast group row %q", id)
		}
		p.store.DeleteMulticastGroup(groupUUID)
		delete(p.groups, id)
	}
	for _, name := range refs.Datapaths {
		dp, ok := p.datapaths[name]
		if !ok {
			return errors.Errorf("can't delete unknown datapath %q", name)
		}
		p.store.DeleteDatapath(dp.UUID)
		delete(p.datapaths, name)
		log.WithField("datapath", name).Debug("Deleted datapath, rows that referenced it now dangle")
	}
	return nil
}

// lookupDatapath resolves a datapath name; the empty name means no datapath.
func (p *Player) lookupDatapath(name string) (*model.DatapathBinding, error) {
	if name == "" {
		return nil, nil
	}
	dp, ok := p.datapaths[name]
	if !ok {
		return nil, errors.Errorf("unknown datapath %q", name)
	}
	return dp, nil
}

func rowUUID(kind, id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("sbfilter/%s/%s", kind, id)))
}
