// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"fmt"
	"maps"
	"slices"
)

// Type is the counter class prefix of a telemetry counter name.
type Type string

const (
	Utilization Type = "util"
	Execution   Type = "exec"
)

var Types = []Type{Utilization, Execution}

// Engine is the accelerator slice a counter is attributed to.
type Engine string

const (
	Cipher             Engine = "cph"
	Authentication     Engine = "ath"
	PublicKeyEncrypt   Engine = "pke"
	UnifiedCryptoSlice Engine = "ucs"
	Compression        Engine = "cpr"
	Decompression      Engine = "dcpr"
	Translator         Engine = "xlt"
)

var Engines = []Engine{
	Cipher,
	Authentication,
	PublicKeyEncrypt,
	UnifiedCryptoSlice,
	Compression,
	Decompression,
	Translator,
}

func (e Engine) Name() string {
	switch e {
	case Cipher:
		return "cipher"
	case Authentication:
		return "authentication"
	case PublicKeyEncrypt:
		return "public-key"
	case UnifiedCryptoSlice:
		return "unified-crypto-slice"
	case Compression:
		return "compression"
	case Decompression:
		return "decompression"
	case Translator:
		return "translator"
	default:
		return string(e)
	}
}

// Key returns the sample key counters of this type and engine aggregate to.
func Key(t Type, e Engine) string {
	return fmt.Sprintf("%s_%s", t, e)
}

// Unavailable is returned by Average when a sample holds no values for the
// requested counter.
const Unavailable = -1

// Sample is one snapshot of the telemetry counters of a device, keyed by
// counter name. Engine counters hold one value per engine instance in
// instance order, all other counters hold a single value.
type Sample map[string][]int64

func (s Sample) Values(key string) []int64 {
	return s[key]
}

// Average returns the mean over all instances of the given counter, or
// Unavailable if the sample has no values for it.
func (s Sample) Average(t Type, e Engine) float64 {
	values := s[Key(t, e)]
	if len(values) == 0 {
		return Unavailable
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// Keys returns the sample keys in lexical order.
func (s Sample) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Averages computes Average for every type and engine present in the sample.
func (s Sample) Averages() map[string]float64 {
	averages := map[string]float64{}
	for _, t := range Types {
		for _, e := range Engines {
			if avg := s.Average(t, e); avg != Unavailable {
				averages[Key(t, e)] = avg
			}
		}
	}
	return averages
}
