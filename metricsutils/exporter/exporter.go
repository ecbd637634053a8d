// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"github.com/go-logr/logr"
	"github.com/ironcore-dev/qat-utils/deviceutils/qat"
	"github.com/ironcore-dev/qat-utils/telemetryutils/counter"
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "qat"

// Source lists the devices to export. *qat.Manager is a Source.
type Source interface {
	Devices() []*qat.Device
}

type metricInfo struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
}

func newMetricInfo(name, help string, valueType prometheus.ValueType, labels ...string) metricInfo {
	return metricInfo{
		desc:      prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil),
		valueType: valueType,
	}
}

var (
	deviceInfo = newMetricInfo("device_info",
		"QAT physical function with its family, NUMA node, configured services and state.",
		prometheus.GaugeValue, "device", "family", "numa_node", "services", "state")
	telemetryEnabled = newMetricInfo("telemetry_enabled",
		"Whether debugfs telemetry is available for the device.",
		prometheus.GaugeValue, "device")
	engineAverage = newMetricInfo("engine_average",
		"Counter value averaged over all instances of an engine in the last sample.",
		prometheus.GaugeValue, "device", "type", "engine")
	virtualFunctions = newMetricInfo("virtual_functions",
		"Virtual functions attached to the device.",
		prometheus.GaugeValue, "device")
	vfioVirtualFunctions = newMetricInfo("vfio_virtual_functions",
		"Virtual functions of the device that are members of a vfio group.",
		prometheus.GaugeValue, "device")

	allMetrics = []metricInfo{deviceInfo, telemetryEnabled, engineAverage, virtualFunctions, vfioVirtualFunctions}
)

// Collector exposes the last telemetry sample of every device. It never
// samples itself, a scrape only reads what the manager loop collected.
type Collector struct {
	log    logr.Logger
	source Source
}

func NewCollector(log logr.Logger, source Source) *Collector {
	return &Collector{
		log:    log,
		source: source,
	}
}

func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range allMetrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, dev := range c.source.Devices() {
		c.collectDevice(ch, dev)
	}
}

func (c *Collector) collectDevice(ch chan<- prometheus.Metric, dev *qat.Device) {
	bdf := dev.BDF()

	numa, err := dev.NumaNode()
	if err != nil {
		c.log.V(1).Info("Unknown NUMA node", "device", bdf, "error", err.Error())
	}
	services, err := dev.CfgServices()
	if err != nil {
		c.log.V(1).Info("Unknown services", "device", bdf, "error", err.Error())
	}
	state, err := dev.State()
	if err != nil {
		c.log.V(1).Info("Unknown state", "device", bdf, "error", err.Error())
	}
	c.report(ch, deviceInfo, 1, bdf, dev.Family.Name, numa, services, state)

	enabled := dev.Telemetry().Enabled()
	c.report(ch, telemetryEnabled, boolValue(enabled), bdf)
	if enabled {
		sample := dev.Telemetry().Sample()
		for _, t := range counter.Types {
			for _, e := range counter.Engines {
				if avg := sample.Average(t, e); avg != counter.Unavailable {
					c.report(ch, engineAverage, avg, bdf, string(t), e.Name())
				}
			}
		}
	}

	var bound int
	for _, vf := range dev.VFs {
		if vf.Group != nil {
			bound++
		}
	}
	c.report(ch, virtualFunctions, float64(len(dev.VFs)), bdf)
	c.report(ch, vfioVirtualFunctions, float64(bound), bdf)
}

func (c *Collector) report(ch chan<- prometheus.Metric, m metricInfo, value float64, labels ...string) {
	metric, err := prometheus.NewConstMetric(m.desc, m.valueType, value, labels...)
	if err != nil {
		c.log.Error(err, "Failed to create metric", "desc", m.desc.String())
		return
	}
	ch <- metric
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
