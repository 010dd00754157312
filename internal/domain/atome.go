package domain

import (
	"time"
)

// Atome types known to the store. The type column is free-form; these are
// the ones the engine gives special treatment.
const (
	TypeProject      = "project"
	TypeShape        = "shape"
	TypeFile         = "file"
	TypeUser         = "user"
	TypeShareRequest = "share_request"
	TypeShareLink    = "share_link"
	TypeSharePolicy  = "share_policy"
	TypeToolLayer    = "tool_layer"
)

// PendingOwnerKey is the reserved particle used as a provisional ACL owner
// when an atome has no owner_id yet.
const PendingOwnerKey = "_pending_owner_id"

// Atome is the base addressable entity. Its live properties are the union
// of its particles.
type Atome struct {
	ID        string     `gorm:"column:atome_id;primaryKey" json:"id"`
	Type      string     `gorm:"column:atome_type;index" json:"type"`
	OwnerID   string     `gorm:"column:owner_id;index" json:"owner_id"`
	CreatorID string     `gorm:"column:creator_id" json:"creator_id"`
	ParentID  *string    `gorm:"column:parent_id;index" json:"parent_id"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt *time.Time `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`

	// Particles is the live key/value projection. It is populated from the
	// particles table, not stored on the atomes row itself.
	Particles map[string]any `gorm:"-" json:"particles"`
}

func (Atome) TableName() string { return "atomes" }

// Deleted reports whether the atome carries a tombstone.
func (a *Atome) Deleted() bool { return a.DeletedAt != nil }

// Particle holds a single named property value of an atome. Unique per
// (atome_id, particle_key); last write wins at key granularity.
type Particle struct {
	ID        uint64    `gorm:"column:particle_id;primaryKey;autoIncrement" json:"-"`
	AtomeID   string    `gorm:"column:atome_id;uniqueIndex:idx_particle_key" json:"atome_id"`
	Key       string    `gorm:"column:particle_key;uniqueIndex:idx_particle_key" json:"key"`
	Value     string    `gorm:"column:particle_value" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Particle) TableName() string { return "particles" }

// ParticleVersion is the append-only history row behind undo/time-travel.
// Rows are never mutated.
type ParticleVersion struct {
	ID        uint64    `gorm:"column:version_id;primaryKey;autoIncrement" json:"-"`
	AtomeID   string    `gorm:"column:atome_id;index" json:"atome_id"`
	Key       string    `gorm:"column:particle_key" json:"key"`
	Value     string    `gorm:"column:particle_value" json:"value"`
	Version   int64     `gorm:"column:version" json:"version"`
	Timestamp time.Time `gorm:"column:created_at" json:"timestamp"`
	Author    string    `gorm:"column:author_id" json:"author"`
}

func (ParticleVersion) TableName() string { return "particles_versions" }

// Permission grants a principal access bits on an atome, optionally scoped
// to one particle key. Unique on (atome_id, particle_key, principal_id);
// expired rows are inert.
type Permission struct {
	ID          string     `gorm:"column:permission_id;primaryKey" json:"permission_id"`
	AtomeID     string     `gorm:"column:atome_id;uniqueIndex:idx_perm_scope" json:"atome_id"`
	ParticleKey *string    `gorm:"column:particle_key;uniqueIndex:idx_perm_scope" json:"particle_key,omitempty"`
	PrincipalID string     `gorm:"column:principal_id;uniqueIndex:idx_perm_scope;index" json:"principal_id"`
	CanRead     bool       `gorm:"column:can_read" json:"can_read"`
	CanWrite    bool       `gorm:"column:can_write" json:"can_write"`
	CanDelete   bool       `gorm:"column:can_delete" json:"can_delete"`
	CanShare    bool       `gorm:"column:can_share" json:"can_share"`
	CanCreate   bool       `gorm:"column:can_create" json:"can_create"`
	GrantedBy   string     `gorm:"column:granted_by" json:"granted_by"`
	GrantedAt   time.Time  `gorm:"column:granted_at" json:"granted_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	ShareMode   string     `gorm:"column:share_mode" json:"share_mode,omitempty"`
	Conditions  string     `gorm:"column:conditions" json:"conditions,omitempty"`
}

func (Permission) TableName() string { return "permissions" }

// Expired reports whether the grant is past its expiry.
func (p *Permission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Realtime reports whether the grant participates in live broadcast.
// An unset share_mode counts as real-time.
func (p *Permission) Realtime() bool {
	switch p.ShareMode {
	case "", "real-time", "realtime":
		return true
	}
	return false
}

// OpKind identifies a queued cross-store operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpAlter  OpKind = "alter"
	OpDelete OpKind = "delete"
	// OpPatch is broadcast only and never queues or persists.
	OpPatch OpKind = "patch"
)

// PendingOperation is queued when the secondary backend is unreachable or
// unauthenticated, and drained opportunistically.
type PendingOperation struct {
	AtomeID  string    `json:"atome_id"`
	OwnerID  string    `json:"owner_id"`
	Kind     OpKind    `json:"kind"`
	QueuedAt time.Time `json:"queued_at"`
}
