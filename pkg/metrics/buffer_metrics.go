// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	bufferMetricSubsystem = "buffer"
)

var (
	// BufferChunkAllocations 新分配的 chunk 数量。
	BufferChunkAllocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_allocations_total",
		Help:      "新分配的 chunk 数量",
	}, []string{sideLabelName})

	BufferChunkSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_size_bytes",
		Help:      "新分配 chunk 的容量分布",
		Buckets:   sizeBuckets,
	}, []string{sideLabelName})

	// BufferChunkRecycled 读缓冲区淘汰后放回池中的 chunk 数量。
	BufferChunkRecycled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_recycled_total",
		Help:      "淘汰后放回池中复用的 chunk 数量",
	})

	BufferChunkReused = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_reused_total",
		Help:      "从池中取出复用的 chunk 数量",
	})

	BufferChunkDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_discarded_total",
		Help:      "池已满被直接丢弃的 chunk 数量",
	})

	// BufferChunkCompacted 读缓冲区达到 chunk 上限时把未读数据搬到新 chunk 的次数。
	BufferChunkCompacted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "chunk_compacted_total",
		Help:      "达到 chunk 上限时压缩未读数据的次数",
	})

	BufferCapacityExceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "capacity_exceeded_total",
		Help:      "超过 MaxChunks 上限的次数",
	}, []string{sideLabelName})

	BufferFlushedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "flushed_bytes_total",
		Help:      "写缓冲区 Flush 时已提交的字节数",
	})

	BufferFilledBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: bufferMetricSubsystem,
		Name:      "filled_bytes_total",
		Help:      "读缓冲区从数据源读入的字节数",
	})
)

func registerBufferMetrics(r prometheus.Registerer) {
	r.MustRegister(BufferChunkAllocations)
	r.MustRegister(BufferChunkSize)
	r.MustRegister(BufferChunkRecycled)
	r.MustRegister(BufferChunkReused)
	r.MustRegister(BufferChunkDiscarded)
	r.MustRegister(BufferChunkCompacted)
	r.MustRegister(BufferCapacityExceeded)
	r.MustRegister(BufferFlushedBytes)
	r.MustRegister(BufferFilledBytes)
}
