package domain

// Share request lifecycle states. "active" is reachable only for
// linked shares in real-time mode; accepted and rejected are terminal.
const (
	ShareStatusPending  = "pending"
	ShareStatusAccepted = "accepted"
	ShareStatusActive   = "active"
	ShareStatusRejected = "rejected"
)

// Share delivery modes.
const (
	ShareModeRealtime = "real-time"
	ShareModeManual   = "manual"
)

// Share types: linked grants permission rows on the originals, copy clones
// the atomes into the recipient's namespace.
const (
	ShareTypeLinked = "linked"
	ShareTypeCopy   = "copy"
)

// Which side of a request pair an atome represents.
const (
	ShareBoxInbox  = "inbox"
	ShareBoxOutbox = "outbox"
)

// Standing policies between two identities.
const (
	PolicyAlways  = "always"
	PolicyNever   = "never"
	PolicyBlock   = "block"
	PolicyOneShot = "one-shot"
)

// PermissionSet is the rights payload carried by share requests.
type PermissionSet struct {
	Read   bool `json:"read"`
	Alter  bool `json:"alter"`
	Delete bool `json:"delete"`
	Create bool `json:"create"`
}

// ShareRequest is the particle payload of a share_request atome. Inbox and
// outbox carry identical payloads and point at each other through LinkedID.
type ShareRequest struct {
	RequestID    string        `json:"request_id"`
	SharerID     string        `json:"sharer_id"`
	TargetUserID string        `json:"target_user_id"`
	AtomeIDs     []string      `json:"atome_ids"`
	Permissions  PermissionSet `json:"permissions"`
	Mode         string        `json:"mode"`
	ShareType    string        `json:"share_type"`
	Status       string        `json:"status"`
	Box          string        `json:"box"`
	LinkedID     string        `json:"linked_id"`
}

// SharePolicy is the particle payload of a share_policy atome, keyed by
// (owner, peer).
type SharePolicy struct {
	OwnerID     string        `json:"owner_id"`
	PeerID      string        `json:"peer_id"`
	Policy      string        `json:"policy"`
	Permissions PermissionSet `json:"permissions"`
}

// ShareExempt reports whether an atome type is excluded from recursive
// share expansion.
func ShareExempt(atomeType string) bool {
	switch atomeType {
	case TypeShareRequest, TypeShareLink, TypeSharePolicy:
		return true
	}
	return false
}
