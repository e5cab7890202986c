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

package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"

	"github.com/projectcalico/sbfilter/model"
)

// EnvPrefix is the prefix of every environment variable read by FromEnv.
const EnvPrefix = "SBFILTER"

type Config struct {
	// LogLevel is the log level to use.
	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL" default:"info" validate:"required"`

	// DuplicateLogInterval and DuplicateLogBurst rate limit the warnings about
	// duplicate rows found while building the port and multicast group indexes.
	DuplicateLogInterval time.Duration `json:"duplicate_log_interval" envconfig:"DUPLICATE_LOG_INTERVAL" default:"30s" validate:"gt=0"`
	DuplicateLogBurst    int           `json:"duplicate_log_burst" envconfig:"DUPLICATE_LOG_BURST" default:"1" validate:"gte=0"`

	// RegistryTables are the tables that get a clause for every datapath
	// referenced by a local port or multicast group.
	RegistryTables TableList `json:"registry_tables" envconfig:"REGISTRY_TABLES" default:"Port_Binding,Logical_Flow,Multicast_Group"`

	// FilterTables are the tables that start out replicating nothing and get a
	// clause for every filtered datapath.
	FilterTables TableList `json:"filter_tables" envconfig:"FILTER_TABLES" default:"Port_Binding,Mac_Binding,Logical_Flow,Multicast_Group"`
}

// TableList is a comma separated list of datapath-scoped table names.
type TableList []model.Table

// Decode implements envconfig.Decoder.
func (l *TableList) Decode(value string) error {
	var tables TableList
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := model.Table(name)
		if !model.IsDatapathScoped(t) {
			return errors.Errorf("table %q has no datapath column", name)
		}
		tables = append(tables, t)
	}
	*l = tables
	return nil
}

// Default returns the configuration that FromEnv loads when no SBFILTER_*
// variables are set.
func Default() *Config {
	return &Config{
		LogLevel:             "info",
		DuplicateLogInterval: 30 * time.Second,
		DuplicateLogBurst:    1,
		RegistryTables: TableList{
			model.PortBindingTable,
			model.LogicalFlowTable,
			model.MulticastGroupTable,
		},
		FilterTables: TableList{
			model.PortBindingTable,
			model.MacBindingTable,
			model.LogicalFlowTable,
			model.MulticastGroupTable,
		},
	}
}

// FromEnv loads the configuration from SBFILTER_* environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration from environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	return cfg, nil
}

var validate = validator.New()

func (cfg *Config) validate() error {
	return validate.Struct(cfg)
}

func (cfg *Config) String() string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(data)
}
