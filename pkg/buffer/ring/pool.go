// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2016 Aliaksandr Valialkin, VertaMedia
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
//
// Use of this source code is governed by a MIT license that can be found
// at https://github.com/valyala/bytebufferpool/blob/master/LICENSE

package ring

import (
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	minBitSize = 6 // 2**6=64，典型 CPU cache line 大小
	steps      = 20

	minSize = 1 << minBitSize

	calibrateCallsThreshold = 42000
	maxPercentile           = 0.95
)

// Pool 复用 Buffer，按归还时的数据量分桶统计，
// 周期性地校准新建 Buffer 的默认容量以及允许回收的最大容量。
type Pool struct {
	calls       [steps]atomic.Uint64
	calibrating atomic.Bool

	defaultSize atomic.Uint64
	maxSize     atomic.Uint64

	pool sync.Pool
}

var builtinPool Pool

// Get 从默认池取一个空 Buffer。
func Get() *Buffer { return builtinPool.Get() }

// Put 归还 Buffer 到默认池，归还后不能再访问。
func Put(b *Buffer) { builtinPool.Put(b) }

func (p *Pool) Get() *Buffer {
	if v := p.pool.Get(); v != nil {
		return v.(*Buffer)
	}
	return New(int(p.defaultSize.Load()))
}

// Put 记录 b 的容量后放回池中，超过校准上限的 Buffer 直接丢弃。
func (p *Pool) Put(b *Buffer) {
	if p.calls[index(b.Cap())].Add(1) > calibrateCallsThreshold {
		p.calibrate()
	}

	maxSize := int(p.maxSize.Load())
	if maxSize == 0 || b.Cap() <= maxSize {
		b.Reset()
		p.pool.Put(b)
	}
}

// calibrate 取调用次数最多的桶作为默认容量，
// 覆盖 95% 调用的最大桶作为回收上限。
func (p *Pool) calibrate() {
	if !p.calibrating.CompareAndSwap(false, true) {
		return
	}
	defer p.calibrating.Store(false)

	type callSize struct {
		calls uint64
		size  uint64
	}
	a := make([]callSize, 0, steps)
	var callsSum uint64
	for i := range p.calls {
		calls := p.calls[i].Swap(0)
		callsSum += calls
		a = append(a, callSize{calls: calls, size: minSize << i})
	}
	slices.SortFunc(a, func(x, y callSize) int {
		switch {
		case x.calls > y.calls:
			return -1
		case x.calls < y.calls:
			return 1
		}
		return 0
	})

	defaultSize := a[0].size
	maxSize := defaultSize
	maxSum := uint64(float64(callsSum) * maxPercentile)
	callsSum = 0
	for _, cs := range a {
		if callsSum > maxSum {
			break
		}
		callsSum += cs.calls
		maxSize = max(maxSize, cs.size)
	}

	p.defaultSize.Store(defaultSize)
	p.maxSize.Store(maxSize)
}

func index(n int) int {
	n--
	n >>= minBitSize
	idx := 0
	if n > 0 {
		idx = bits.Len(uint(n))
	}
	return min(idx, steps-1)
}
