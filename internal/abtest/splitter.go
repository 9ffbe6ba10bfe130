package abtest

import (
	"hash/fnv"
	"unicode/utf16"
)

const bucketCount = 100

// DecidePlan picks the plan for identifier under cfg.
//
// An empty identifier falls back to rnd, which must return a value in [0,1).
// DecidePlan holds no state and is safe for concurrent use.
func DecidePlan(cfg Config, identifier string, rnd func() float64) Plan {
	if !cfg.Enabled {
		return PlanA
	}
	var bucket float64
	if identifier != "" {
		bucket = float64(Bucket(cfg.HashAlgorithm, identifier))
	} else {
		bucket = rnd() * bucketCount
	}
	if bucket < float64(cfg.PlanAPercentage) {
		return PlanA
	}
	return PlanB
}

// Bucket maps identifier into [0,100) with the given algorithm.
func Bucket(alg HashAlgorithm, identifier string) int {
	if alg == HashLegacy {
		h := int64(legacyHash(identifier))
		if h < 0 {
			h = -h
		}
		return int(h % bucketCount)
	}
	return int(fnv1a(identifier) % bucketCount)
}

// legacyHash computes hash = (hash<<5) - hash + code over UTF-16 code units
// with int32 wraparound.
func legacyHash(value string) int32 {
	var hash int32
	for _, unit := range utf16.Encode([]rune(value)) {
		hash = (hash << 5) - hash + int32(unit)
	}
	return hash
}

func fnv1a(value string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	return h.Sum32()
}
