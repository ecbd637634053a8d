// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

var engineCounterPattern = regexp.MustCompile(`^(util|exec)_([a-zA-Z]+)(\d+)$`)

// Parser turns the text of a telemetry device_data file into a Sample.
type Parser struct {
	// Filter restricts the keys kept in a sample. An empty filter keeps
	// every key.
	Filter sets.Set[string]
}

func NewParser(keys ...string) *Parser {
	p := &Parser{}
	if len(keys) > 0 {
		p.Filter = sets.New(keys...)
	}
	return p
}

func (p *Parser) keep(key string) bool {
	return p == nil || p.Filter.Len() == 0 || p.Filter.Has(key)
}

type instanceValue struct {
	index int
	value int64
}

// Parse reads "<name> <value>" lines. Engine counters named
// <type>_<engine><instance> are grouped under <type>_<engine> and ordered by
// instance. If a scalar counter is literally named <type>_<engine> and the
// same engine also has instance counters, the instance values win. The
// returned sample never shares state with earlier ones.
func (p *Parser) Parse(raw string) Sample {
	instances := map[string][]instanceValue{}
	sample := Sample{}

	// No line length limit, a long line must not hide the ones after it.
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}

		m := engineCounterPattern.FindStringSubmatch(name)
		if m == nil {
			if p.keep(name) {
				sample[name] = []int64{value}
			}
			continue
		}

		key := m[1] + "_" + m[2]
		if !p.keep(key) {
			continue
		}
		index, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		instances[key] = append(instances[key], instanceValue{index: index, value: value})
	}

	for key, values := range instances {
		sort.SliceStable(values, func(i, j int) bool {
			return values[i].index < values[j].index
		})
		ordered := make([]int64, 0, len(values))
		for _, v := range values {
			ordered = append(ordered, v.value)
		}
		sample[key] = ordered
	}

	return sample
}
