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
	registryMetricSubsystem = "registry"
)

var (
	RegistryRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: kryoNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "registrations",
		Help:      "当前已注册的类型数量",
	})

	// RegistryFailures 按类型名与操作统计序列化失败次数。
	RegistryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: kryoNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "failures_total",
		Help:      "序列化或反序列化失败的次数",
	}, []string{typeLabelName, opLabelName})

	RegistryBatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: kryoNamespace,
		Subsystem: registryMetricSubsystem,
		Name:      "batch_encode_latency_milliseconds",
		Help:      "批量编码耗时，单位毫秒",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)

func registerRegistryMetrics(r prometheus.Registerer) {
	r.MustRegister(RegistryRegistrations)
	r.MustRegister(RegistryFailures)
	r.MustRegister(RegistryBatchLatency)
}
