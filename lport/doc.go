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

// Package lport indexes the Port_Binding and Multicast_Group rows that the
// database client currently replicates and tracks which logical datapaths
// they reference.
//
// The indexes are rebuilt from scratch on every recomputation cycle.  The
// DatapathRegistry outlives them: it counts, per cycle, how many indexed
// ports and groups reference each datapath and keeps a replication clause for
// every referenced datapath in each datapath-scoped table.  Datapaths that
// are no longer referenced lose their clauses when the port index is torn
// down.
//
// A cycle must run in this order:
//
//	ports := BuildPortIndex(rows, registry)    // resets the reference counts
//	groups := BuildMulticastGroupIndex(rows, registry)
//	... use the indexes ...
//	groups.Teardown()
//	ports.Teardown(rows)                       // reclaims unreferenced datapaths
package lport
