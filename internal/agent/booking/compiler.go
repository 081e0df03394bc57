// Package booking compiles a company's slot library and slot groups into the
// ordered list of booking slots for a given set of branch flags.
package booking

import (
	"sort"

	"agent-engine/internal/models"
)

// Compile is pure and deterministic: equal inputs give equal previews.
//
// Every group's references are validated against the library whether the
// group is active or not, so a typo in a dormant branch still surfaces.
func Compile(library []models.SlotDefinition, groups []models.SlotGroup, flags map[string]bool) models.CompiledPreview {
	preview := models.CompiledPreview{
		ActiveSlotIDs:   []string{},
		MissingSlotRefs: []string{},
	}
	if len(library) == 0 && len(groups) == 0 {
		preview.Status = models.PreviewUnconfigured
		return preview
	}

	byID := make(map[string]models.SlotDefinition, len(library))
	for _, s := range library {
		byID[s.ID] = s
	}

	missing := make(map[string]struct{})
	seen := make(map[string]struct{})

	for _, g := range groups {
		active := g.When.Eval(flags)
		for _, ref := range g.SlotIDs {
			slot, ok := byID[ref]
			if !ok {
				missing[ref] = struct{}{}
				continue
			}
			if !active {
				continue
			}
			if _, dup := seen[ref]; dup {
				continue
			}
			if !dependsSatisfied(slot.DependsOn, flags) {
				continue
			}
			seen[ref] = struct{}{}
			preview.ActiveSlotIDs = append(preview.ActiveSlotIDs, ref)
		}
	}

	for ref := range missing {
		preview.MissingSlotRefs = append(preview.MissingSlotRefs, ref)
	}
	sort.Strings(preview.MissingSlotRefs)

	if len(preview.MissingSlotRefs) > 0 || len(preview.ActiveSlotIDs) == 0 {
		preview.Status = models.PreviewNotConfigured
	} else {
		preview.Status = models.PreviewConfigured
	}
	return preview
}

// CompileConfig compiles the contract of one company document.
func CompileConfig(cfg *models.CompanyConfig, flags map[string]bool) models.CompiledPreview {
	return Compile(cfg.SlotLibrary, cfg.SlotGroups, flags)
}

func dependsSatisfied(dependsOn []string, flags map[string]bool) bool {
	for _, f := range dependsOn {
		if !flags[f] {
			return false
		}
	}
	return true
}

// RelevantFlags lists, sorted and deduped, every flag that can change the
// outcome of Compile for this document. Callers use it to build memo keys.
func RelevantFlags(cfg *models.CompanyConfig) []string {
	set := make(map[string]struct{})
	for _, g := range cfg.SlotGroups {
		for _, f := range g.When.Flags() {
			set[f] = struct{}{}
		}
	}
	for _, s := range cfg.SlotLibrary {
		for _, f := range s.DependsOn {
			set[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
