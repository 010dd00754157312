package share

import (
	"encoding/json"

	"atome-store/internal/domain"
)

// encodeRequest flattens a share request into the particle map of its
// carrier atome.
func encodeRequest(request *domain.ShareRequest) map[string]any {
	return map[string]any{
		"request_id":     request.RequestID,
		"sharer_id":      request.SharerID,
		"target_user_id": request.TargetUserID,
		"atome_ids":      request.AtomeIDs,
		"permissions":    permissionSetParticle(request.Permissions),
		"mode":           request.Mode,
		"share_type":     request.ShareType,
		"status":         request.Status,
		"box":            request.Box,
		"linked_id":      request.LinkedID,
	}
}

// decodeRequest reads a share request back out of a share_request atome.
// Particle values have been through a JSON round trip, so the map is
// remarshalled rather than type-asserted field by field.
func decodeRequest(atome *domain.Atome) *domain.ShareRequest {
	if atome == nil || atome.Type != domain.TypeShareRequest {
		return nil
	}
	raw, err := json.Marshal(atome.Particles)
	if err != nil {
		return nil
	}
	var request domain.ShareRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil
	}
	if request.RequestID == "" {
		return nil
	}
	return &request
}
