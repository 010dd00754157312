package atome

import (
	"sort"

	"atome-store/internal/domain"
)

// mergeLists unions both backends by atome id. On a collision the copy
// with the newer updated_at wins; an exact tie keeps the primary. When an
// owner filter was requested, atomes carrying another owner are dropped
// regardless of which backend returned them.
func mergeLists(primary, secondary []domain.Atome, ownerFilter string) []domain.Atome {
	byID := make(map[string]domain.Atome, len(primary)+len(secondary))
	for i := range primary {
		byID[primary[i].ID] = primary[i]
	}
	for i := range secondary {
		candidate := secondary[i]
		existing, ok := byID[candidate.ID]
		if !ok {
			byID[candidate.ID] = candidate
			continue
		}
		if candidate.UpdatedAt.After(existing.UpdatedAt) {
			byID[candidate.ID] = candidate
		}
	}

	merged := make([]domain.Atome, 0, len(byID))
	for _, atome := range byID {
		if ownerFilter != "" && atome.OwnerID != ownerFilter {
			continue
		}
		merged = append(merged, atome)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})
	return merged
}
