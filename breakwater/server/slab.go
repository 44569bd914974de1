/*
 * Copyright (c) 2025, Breakwater Networks Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package server

import (
	"fmt"
)

// receiveSlab is a single contiguous byte region statically partitioned
// into fixed-size, non-overlapping windows. Each receive context is bound
// to one window for the lifetime of the engine, so receiving never
// allocates per-connection buffers. There is no free operation: the
// partition is fixed at startup and windows are never rebound.
type receiveSlab struct {
	windowSize  int
	windowCount int
	allocated   int
	region      []byte
}

// newReceiveSlab makes a slab of windowCount windows of windowSize bytes
// each, backed by one allocation.
func newReceiveSlab(windowSize, windowCount int) *receiveSlab {
	return &receiveSlab{
		windowSize:  windowSize,
		windowCount: windowCount,
		region:      make([]byte, windowSize*windowCount),
	}
}

// allocateWindow returns the next unassigned window. Windows are handed out
// at most windowCount times, during receive context pool construction, from
// a single goroutine. Allocating beyond the partition is a programming
// error and panics.
func (slab *receiveSlab) allocateWindow() []byte {
	if slab.allocated >= slab.windowCount {
		panic(fmt.Sprintf(
			"receiveSlab: allocated more than %d windows", slab.windowCount))
	}
	start := slab.allocated * slab.windowSize
	end := start + slab.windowSize
	slab.allocated++
	return slab.region[start:end:end]
}
