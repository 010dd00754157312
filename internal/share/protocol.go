package share

import (
	"context"
	"encoding/json"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Message is the envelope of the share wire protocol. Action selects the
// operation; the remaining fields are the action's payload.
type Message struct {
	Action    string `json:"action" validate:"required"`
	RequestID string `json:"requestId"`

	Target            string                `json:"target,omitempty"`
	AtomeIDs          []string              `json:"atomeIds,omitempty" validate:"omitempty,dive,required"`
	AtomeID           string                `json:"atomeId,omitempty"`
	AtomeType         string                `json:"atomeType,omitempty"`
	Permissions       []string              `json:"permissions,omitempty"`
	Rights            *domain.PermissionSet `json:"rights,omitempty"`
	Mode              string                `json:"mode,omitempty" validate:"omitempty,oneof=real-time manual"`
	ShareType         string                `json:"shareType,omitempty" validate:"omitempty,oneof=linked copy"`
	ShareRequestID    string                `json:"shareRequestId,omitempty"`
	Decision          string                `json:"decision,omitempty" validate:"omitempty,oneof=accept reject"`
	ReceiverProjectID string                `json:"receiverProjectId,omitempty"`
	Policy            string                `json:"policy,omitempty" validate:"omitempty,oneof=always never block one-shot"`
	PeerID            string                `json:"peerId,omitempty"`
	PrincipalID       string                `json:"principalId,omitempty"`
	PermissionID      string                `json:"permissionId,omitempty"`
}

// Reply mirrors the request id back and carries either data or an error.
type Reply struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Protocol dispatches share protocol messages onto the engine.
type Protocol struct {
	engine   *Engine
	validate *validator.Validate
}

func NewProtocol(engine *Engine) *Protocol {
	return &Protocol{engine: engine, validate: validator.New()}
}

// Handle decodes raw, runs the named action as userID and returns the
// encoded reply. Malformed input never panics the caller's read loop.
func (p *Protocol) Handle(ctx context.Context, userID string, raw []byte) []byte {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return encodeReply(Reply{Success: false, Error: "malformed message"})
	}
	if err := p.validate.Struct(&msg); err != nil {
		return encodeReply(Reply{RequestID: msg.RequestID, Success: false, Error: "invalid message"})
	}

	data, err := p.dispatch(ctx, userID, &msg)
	reply := Reply{RequestID: msg.RequestID, Success: err == nil, Data: data}
	if err != nil {
		reply.Error = err.Error()
	}
	return encodeReply(reply)
}

func (p *Protocol) dispatch(ctx context.Context, userID string, msg *Message) (any, error) {
	switch msg.Action {
	case "request":
		request, err := p.engine.Request(ctx, userID, RequestInput{
			Target:      msg.Target,
			AtomeIDs:    msg.AtomeIDs,
			Permissions: rightsOf(msg),
			Mode:        msg.Mode,
			ShareType:   msg.ShareType,
		})
		if err != nil {
			return nil, err
		}
		return request, nil

	case "respond":
		var policy *domain.SharePolicy
		if msg.Policy != "" {
			policy = &domain.SharePolicy{Policy: msg.Policy, Permissions: rightsOf(msg)}
		}
		resolution, err := p.engine.Respond(ctx, userID, msg.ShareRequestID, msg.Decision, msg.ReceiverProjectID, policy)
		if err != nil {
			return nil, err
		}
		return resolution, nil

	case "publish":
		resolution, err := p.engine.Publish(ctx, userID, msg.ShareRequestID)
		if err != nil {
			return nil, err
		}
		return resolution, nil

	case "policy":
		if msg.PeerID == "" {
			return nil, apierrors.Invalid("peerId is required", nil)
		}
		err := p.engine.SavePolicy(ctx, &domain.SharePolicy{
			OwnerID:     userID,
			PeerID:      msg.PeerID,
			Policy:      msg.Policy,
			Permissions: rightsOf(msg),
		})
		return nil, err

	case "create":
		if msg.AtomeID == "" || msg.PrincipalID == "" {
			return nil, apierrors.Invalid("atomeId and principalId are required", nil)
		}
		perm, err := p.engine.CreateShare(ctx, userID, msg.AtomeID, msg.PrincipalID, rightsOf(msg), GrantOptions{ShareMode: msg.Mode})
		if err != nil {
			return nil, err
		}
		return perm, nil

	case "revoke":
		if msg.PermissionID == "" {
			return nil, apierrors.Invalid("permissionId is required", nil)
		}
		return nil, p.engine.RevokeShare(ctx, userID, msg.PermissionID)

	case "get-atome":
		if msg.AtomeID == "" {
			return nil, apierrors.Invalid("atomeId is required", nil)
		}
		return p.engine.GetAtome(ctx, userID, msg.AtomeID)

	case "my-shares":
		return p.engine.MyShares(ctx, userID)

	case "shared-with-me":
		return p.engine.SharedWithMe(ctx, userID)

	case "inbox":
		return p.engine.Inbox(ctx, userID)

	case "accessible":
		return p.engine.Accessible(ctx, userID, msg.AtomeType)

	case "check":
		if msg.AtomeID == "" {
			return nil, apierrors.Invalid("atomeId is required", nil)
		}
		mask, err := MaskFromNames(msg.Permissions)
		if err != nil {
			return nil, err
		}
		allowed, err := p.engine.CheckPermission(ctx, userID, msg.AtomeID, mask)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"allowed": allowed}, nil

	default:
		return nil, apierrors.Invalid("Unknown action", nil)
	}
}

// rightsOf prefers the structured rights object, falling back to the
// permission name list.
func rightsOf(msg *Message) domain.PermissionSet {
	if msg.Rights != nil {
		return *msg.Rights
	}
	set := domain.PermissionSet{}
	for _, name := range msg.Permissions {
		switch name {
		case "read":
			set.Read = true
		case "write", "alter":
			set.Alter = true
		case "delete":
			set.Delete = true
		case "create":
			set.Create = true
		}
	}
	if set == (domain.PermissionSet{}) {
		set.Read = true
	}
	return set
}

func encodeReply(reply Reply) []byte {
	raw, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"success":false,"error":"encode failed"}`)
	}
	return raw
}
