package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"atome-store/internal/atome"
	"atome-store/internal/domain"
	"atome-store/internal/events"
	"atome-store/internal/share"
	"atome-store/internal/store"
)

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Router resolves who should hear about a change and hands messages to
// the registry. Broadcast is best effort: a slow or gone recipient never
// fails the mutation that triggered it.
type Router struct {
	registry *Registry
	engine   *share.Engine
	ledger   store.Ledger
	timeout  time.Duration
}

func NewRouter(registry *Registry, engine *share.Engine, ledger store.Ledger) *Router {
	return &Router{registry: registry, engine: engine, ledger: ledger, timeout: 2 * time.Second}
}

// Subscribe wires the router onto the event bus. Handlers spawn a
// goroutine per event so emitters never wait on fan-out.
func (r *Router) Subscribe(bus *events.Bus) {
	bus.On(events.AtomeMutated, func(payload any) {
		mutation, ok := payload.(atome.Mutation)
		if !ok {
			return
		}
		go r.broadcastMutation(mutation)
	})
	bus.On(events.ShareRequested, func(payload any) {
		notice, ok := payload.(share.RequestNotice)
		if !ok {
			return
		}
		go r.notify(notice.Request.TargetUserID, "share:request", notice.Request)
	})
	bus.On(events.ShareResolved, func(payload any) {
		resolution, ok := payload.(share.Resolution)
		if !ok {
			return
		}
		go r.broadcastResolution(resolution)
	})
	bus.On(events.PermissionChanged, func(payload any) {
		change, ok := payload.(share.PermissionChange)
		if !ok {
			return
		}
		if change.Revoked {
			go r.notify(change.PrincipalID, "share:revoked", change)
		}
	})
}

func (r *Router) broadcastMutation(mutation atome.Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	eventType := "atome:" + string(mutation.Kind)
	payload := map[string]any{
		"atome":  mutation.Atome,
		"author": mutation.AuthorID,
	}
	if len(mutation.Patch) > 0 {
		payload["patch"] = mutation.Patch
	}
	message, err := json.Marshal(Envelope{Type: eventType, Data: payload})
	if err != nil {
		log.Printf("[REALTIME] encode failed for %s: %v", eventType, err)
		return
	}

	for _, userID := range r.recipients(ctx, &mutation.Atome) {
		exclude := ""
		if userID == mutation.AuthorID {
			exclude = mutation.Origin
		}
		r.registry.Deliver(userID, message, exclude)
	}
}

// recipients is the effective owner plus every holder of a live real-time
// read grant. Each grant is re-checked at send time so a revocation that
// landed after the grant list was written still wins.
func (r *Router) recipients(ctx context.Context, a *domain.Atome) []string {
	seen := map[string]bool{}
	var out []string

	if owner := share.EffectiveOwner(a); owner != "" {
		seen[owner] = true
		out = append(out, owner)
	}

	grants, err := r.ledger.ForAtome(ctx, a.ID)
	if err != nil {
		log.Printf("[REALTIME] grant lookup failed for %s: %v", a.ID, err)
		return out
	}
	for i := range grants {
		grant := grants[i]
		if !grant.Realtime() || !grant.CanRead || seen[grant.PrincipalID] {
			continue
		}
		allowed, err := r.engine.CheckPermission(ctx, grant.PrincipalID, a.ID, share.Read)
		if err != nil || !allowed {
			continue
		}
		seen[grant.PrincipalID] = true
		out = append(out, grant.PrincipalID)
	}
	return out
}

func (r *Router) broadcastResolution(resolution share.Resolution) {
	r.notify(resolution.Request.SharerID, "share:resolved", resolution)

	if !resolution.LiveCreate {
		return
	}
	// Linked real-time accepts replay the shared items to the recipient as
	// create events so their tree fills in immediately.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for _, atomeID := range resolution.AtomeIDs {
		shared, err := r.ledger.Get(ctx, atomeID, false)
		if err != nil {
			continue
		}
		r.notify(resolution.Request.TargetUserID, "atome:create", map[string]any{
			"atome":  shared,
			"author": resolution.Request.SharerID,
		})
	}
}

func (r *Router) notify(userID, eventType string, data any) {
	if userID == "" {
		return
	}
	message, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[REALTIME] encode failed for %s: %v", eventType, err)
		return
	}
	r.registry.Deliver(userID, message, "")
}
