// Copyright 2026 Blink Labs Software
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

package governance

import (
	"sort"
	"sync"
)

type checkpoint struct {
	position uint64
	value    uint64
}

// CheckpointOracle is an Oracle backed by append-only per-account
// checkpoints. A lookup at position p returns the value of the latest
// checkpoint at or before p, so historical reads stay stable as new
// checkpoints arrive.
type CheckpointOracle struct {
	weights map[string][]checkpoint
	supply  []checkpoint
	mu      sync.RWMutex
}

func NewCheckpointOracle() *CheckpointOracle {
	return &CheckpointOracle{
		weights: make(map[string][]checkpoint),
	}
}

// SetWeight records an account's voting power from the given position
// onward. Positions must be recorded in ascending order per account;
// an out-of-order write replaces the latest checkpoint instead of
// rewriting history.
func (o *CheckpointOracle) SetWeight(
	account string,
	position uint64,
	weight uint64,
) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.weights[account] = appendCheckpoint(
		o.weights[account],
		checkpoint{position: position, value: weight},
	)
}

// SetTotalSupply records the total supply from the given position
// onward.
func (o *CheckpointOracle) SetTotalSupply(position uint64, supply uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.supply = appendCheckpoint(
		o.supply,
		checkpoint{position: position, value: supply},
	)
}

func (o *CheckpointOracle) WeightAt(account string, position uint64) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return lookupCheckpoint(o.weights[account], position)
}

func (o *CheckpointOracle) TotalSupplyAt(position uint64) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return lookupCheckpoint(o.supply, position)
}

func appendCheckpoint(
	checkpoints []checkpoint,
	next checkpoint,
) []checkpoint {
	if l := len(checkpoints); l > 0 &&
		checkpoints[l-1].position >= next.position {
		checkpoints[l-1] = next
		return checkpoints
	}
	return append(checkpoints, next)
}

func lookupCheckpoint(checkpoints []checkpoint, position uint64) uint64 {
	// First checkpoint strictly after position
	idx := sort.Search(len(checkpoints), func(i int) bool {
		return checkpoints[i].position > position
	})
	if idx == 0 {
		return 0
	}
	return checkpoints[idx-1].value
}
