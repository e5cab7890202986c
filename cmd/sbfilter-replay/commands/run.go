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

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/projectcalico/sbfilter/config"
	"github.com/projectcalico/sbfilter/controller"
	"github.com/projectcalico/sbfilter/model"
	"github.com/projectcalico/sbfilter/sbdb"
	"github.com/projectcalico/sbfilter/scenario"
)

const metricsPrefix = "sbfilter_"

type runOptions struct {
	json        bool
	dumpMetrics bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario and print the conditions after each cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := scenario.Load(args[0])
		if err != nil {
			return err
		}
		return runScenario(cmd.OutOrStdout(), s, cfg, runOpts)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.json, "json", false,
		"Print the monitor_cond_change where-lists of the updated tables instead of tables")
	runCmd.Flags().BoolVar(&runOpts.dumpMetrics, "dump-metrics", false,
		"Print the metrics in Prometheus text format after the last cycle")
	rootCmd.AddCommand(runCmd)
}

func runScenario(out io.Writer, s *scenario.Scenario, cfg *config.Config, opts runOptions) error {
	player, err := scenario.NewPlayer(s)
	if err != nil {
		return err
	}
	conds := sbdb.NewConditionSet()
	c := controller.New(conds, cfg)
	c.Init()

	for i, cycle := range s.Cycles {
		in, err := player.Apply(cycle)
		if err != nil {
			return err
		}
		res := c.RunCycle(player.Store(), in)
		log.WithFields(log.Fields{
			"cycle":  i + 1,
			"name":   cycle.Name,
			"result": res,
		}).Info("Ran cycle")

		updated := conds.TakeUpdated()
		if opts.json {
			if err := printCondChange(out, i+1, conds, updated); err != nil {
				return err
			}
			continue
		}
		title := fmt.Sprintf("Cycle %d", i+1)
		if cycle.Name != "" {
			title += ": " + cycle.Name
		}
		fmt.Fprintf(out, "%s\n\n", title)
		printConditions(out, player, conds, updated)
		printRegistry(out, c)
		printFilter(out, c)
		if len(res.UnresolvedPorts) > 0 {
			fmt.Fprintf(out, "Unresolved local ports: %s\n", strings.Join(res.UnresolvedPorts, ", "))
		}
		fmt.Fprintln(out)
	}

	if opts.dumpMetrics {
		return dumpMetrics(out, prometheus.DefaultGatherer)
	}
	return nil
}

func printCondChange(out io.Writer, cycle int, conds *sbdb.ConditionSet, updated []model.Table) error {
	data, err := json.MarshalIndent(map[string]interface{}{
		"cycle":               cycle,
		"monitor_cond_change": conds.CondChangeRequest(updated),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode conditions")
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printConditions(out io.Writer, player *scenario.Player, conds *sbdb.ConditionSet, updated []model.Table) {
	isUpdated := map[model.Table]bool{}
	for _, t := range updated {
		isUpdated[t] = true
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"TABLE", "UPDATED", "CLAUSES"})
	table.SetAutoWrapText(false)
	var rows [][]string
	for _, t := range conds.Tables() {
		var clauses []string
		if conds.HasFalseClause(t) {
			clauses = append(clauses, "false")
		}
		for _, cl := range conds.Clauses(t) {
			value := fmt.Sprintf("%v", cl.Value)
			if id, ok := cl.Value.(uuid.UUID); ok {
				value = player.DatapathName(id)
			}
			clauses = append(clauses, fmt.Sprintf("%s %s %s", cl.Column, cl.Function, value))
		}
		rows = append(rows, []string{string(t), yesNo(isUpdated[t]), strings.Join(clauses, "\n")})
	}
	table.AppendBulk(rows)
	table.Render()
}

func printRegistry(out io.Writer, c *controller.Controller) {
	table := tablewriter.NewWriter(out)
	table.SetCaption(true, "Logical datapaths in use.")
	table.SetHeader([]string{"DATAPATH", "TUNNEL KEY", "REFS"})
	for _, dp := range c.Datapaths() {
		table.Append([]string{dp.UUID.String(), fmt.Sprint(dp.TunnelKey), fmt.Sprint(dp.RefCount)})
	}
	table.Render()
}

func printFilter(out io.Writer, c *controller.Controller) {
	table := tablewriter.NewWriter(out)
	table.SetCaption(true, "Replication filter.")
	table.SetHeader([]string{"KIND", "NAME", "USED"})
	var rows [][]string
	for _, p := range c.FilteredPorts() {
		rows = append(rows, []string{"port", p.Name, yesNo(p.Used)})
	}
	for _, dp := range c.FilteredDatapaths() {
		rows = append(rows, []string{"datapath", fmt.Sprintf("%d (%s)", dp.TunnelKey, dp.UUID), "-"})
	}
	table.AppendBulk(rows)
	table.SetAutoMergeCellsByColumnIndex([]int{0})
	table.Render()
}

func dumpMetrics(out io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), metricsPrefix) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "failed to encode metric %s", mf.GetName())
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
