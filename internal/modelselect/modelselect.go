// Package modelselect implements the candidate model selection algorithm:
// given a catalog of configured models, it narrows and orders the
// candidates a caller should try in sequence.
package modelselect

import "github.com/jervis-ai/jervis/internal/config"

// Request describes what the caller needs from a candidate model.
type Request struct {
	ModelType       string
	QuickOnly       bool
	EstimatedTokens int
}

// contextLengthPrefix marks the capability tag through which a ModelProfile
// advertises its declared context-window size, expressed as "ctx:<tokens>".
const contextLengthPrefix = "ctx:"

// Select returns an ordered, non-empty sequence of candidate models for
// req: filter by type, optionally restrict to
// quick models, partition by context-length capacity, and fall back to the
// single largest-context model if no candidate has enough room. The
// sequence is empty only when catalog has no model of the requested type
// at all.
func Select(catalog []config.ModelProfile, req Request) []config.ModelProfile {
	var ofType []config.ModelProfile
	for _, m := range catalog {
		if m.Provider == "" {
			continue
		}
		if modelTypeOf(m) != req.ModelType {
			continue
		}
		ofType = append(ofType, m)
	}
	if len(ofType) == 0 {
		return nil
	}

	candidates := ofType
	if req.QuickOnly {
		candidates = filterByCapability(ofType, "quick")
	}

	var withCapacity []config.ModelProfile
	for _, m := range candidates {
		if contextLength(m) >= req.EstimatedTokens {
			withCapacity = append(withCapacity, m)
		}
	}
	if len(withCapacity) > 0 {
		return withCapacity
	}

	best := largestContext(ofType)
	if best == nil {
		return nil
	}
	return []config.ModelProfile{*best}
}

func filterByCapability(models []config.ModelProfile, cap string) []config.ModelProfile {
	var out []config.ModelProfile
	for _, m := range models {
		if hasCapability(m, cap) {
			out = append(out, m)
		}
	}
	return out
}

// modelTypeOf derives the requested-type key a ModelProfile matches. Model
// catalogs tag type via a "type:<value>" capability (e.g. "type:chat",
// "type:embedding").
func modelTypeOf(m config.ModelProfile) string {
	const prefix = "type:"
	for _, cap := range m.Capabilities {
		if len(cap) > len(prefix) && cap[:len(prefix)] == prefix {
			return cap[len(prefix):]
		}
	}
	return ""
}

func hasCapability(m config.ModelProfile, cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

func contextLength(m config.ModelProfile) int {
	for _, cap := range m.Capabilities {
		if len(cap) > len(contextLengthPrefix) && cap[:len(contextLengthPrefix)] == contextLengthPrefix {
			return parsePositiveInt(cap[len(contextLengthPrefix):])
		}
	}
	return 0
}

func parsePositiveInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func largestContext(models []config.ModelProfile) *config.ModelProfile {
	var best *config.ModelProfile
	bestLen := -1
	for i, m := range models {
		if l := contextLength(m); l > bestLen {
			bestLen = l
			best = &models[i]
		}
	}
	return best
}
