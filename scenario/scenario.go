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

// Package scenario loads replay scenarios: an initial set of southbound rows
// and a list of cycles, each of which changes the rows and says what the
// host needs.  Scenarios are written in YAML, or in TOML if the file name
// ends in ".toml".
package scenario

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

type Scenario struct {
	Datapaths []Datapath `json:"datapaths,omitempty"`
	Ports     []Port     `json:"ports,omitempty"`
	Groups    []Group    `json:"groups,omitempty"`
	Cycles    []Cycle    `json:"cycles"`
}

// Datapath is a Datapath_Binding row.  Other rows refer to it by name.
type Datapath struct {
	Name        string            `json:"name"`
	TunnelKey   int64             `json:"tunnelKey"`
	ExternalIDs map[string]string `json:"externalIDs,omitempty"`
}

// Port is a Port_Binding row.  An empty datapath makes a row that references
// a missing datapath.
type Port struct {
	// ID identifies the row in later deletes.  It defaults to the name.
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Datapath  string `json:"datapath,omitempty"`
	TunnelKey int64  `json:"tunnelKey"`
	Type      string `json:"type,omitempty"`
	Chassis   string `json:"chassis,omitempty"`
}

// Group is a Multicast_Group row.  Ports are logical port names.
type Group struct {
	// ID identifies the row in later deletes.  It defaults to
	// "<datapath>/<name>".
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Datapath  string   `json:"datapath,omitempty"`
	TunnelKey int64    `json:"tunnelKey"`
	Ports     []string `json:"ports,omitempty"`
}

type Cycle struct {
	Name string `json:"name,omitempty"`

	Add    Rows    `json:"add,omitempty"`
	Delete RowRefs `json:"delete,omitempty"`

	LocalPorts           []string `json:"localPorts,omitempty"`
	FilterLocalDatapaths bool     `json:"filterLocalDatapaths,omitempty"`
	FilterDatapaths      []string `json:"filterDatapaths,omitempty"`
	UnfilterDatapaths    []string `json:"unfilterDatapaths,omitempty"`
}

type Rows struct {
	Datapaths []Datapath `json:"datapaths,omitempty"`
	Ports     []Port     `json:"ports,omitempty"`
	Groups    []Group    `json:"groups,omitempty"`
}

// RowRefs names rows to delete: datapaths by name, ports and groups by ID.
type RowRefs struct {
	Datapaths []string `json:"datapaths,omitempty"`
	Ports     []string `json:"ports,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

func (p Port) RowID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

func (g Group) RowID() string {
	if g.ID != "" {
		return g.ID
	}
	return g.Datapath + "/" + g.Name
}

// Load reads a scenario from a YAML or TOML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario")
	}
	parse := Parse
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOML
	}
	s, err := parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "bad scenario %s", path)
	}
	return s, nil
}

// Parse decodes a YAML scenario, rejecting unknown fields.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse scenario")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseTOML decodes a TOML scenario, rejecting unknown keys.  Keys match the
// YAML field names, case-insensitively.
func ParseTOML(data []byte) (*Scenario, error) {
	var s Scenario
	md, err := toml.Decode(string(data), &s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse scenario")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown keys in scenario: %v", undecoded)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if len(s.Cycles) == 0 {
		return errors.New("scenario has no cycles")
	}
	return nil
}
