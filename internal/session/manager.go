// Package session tracks the device identity lifecycle. Mirroring and
// migration both key off the current state: anonymous sessions never
// mirror, and the anonymous-to-authenticated transition reassigns
// everything the anonymous identity owned.
package session

import (
	"context"
	"log"
	"sync"

	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
)

// Session states.
const (
	StateLoggedOut     = "logged_out"
	StateAnonymous     = "anonymous"
	StateAuthenticated = "authenticated"
)

// Change is the payload emitted on events.SessionChanged.
type Change struct {
	From   string
	To     string
	UserID string
}

// Migrator reassigns ownership when an anonymous session authenticates.
type Migrator func(ctx context.Context, fromOwner, toOwner string) error

// Manager is the session state machine. It implements the orchestrator's
// IdentitySource.
type Manager struct {
	mu      sync.RWMutex
	state   string
	userID  string
	cred    *AnonymousCredential
	bus     *events.Bus
	migrate Migrator
}

func NewManager(cred *AnonymousCredential, bus *events.Bus, migrate Migrator) *Manager {
	return &Manager{state: StateLoggedOut, cred: cred, bus: bus, migrate: migrate}
}

// SetMigrator installs the migration hook after construction. The
// orchestrator and the manager reference each other, so one side has to
// be wired late.
func (m *Manager) SetMigrator(migrate Migrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrate = migrate
}

// State returns the current lifecycle state.
func (m *Manager) State() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// UserID returns the resolved identity: the real user when authenticated,
// the anonymous credential id when anonymous, "" when logged out.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case StateAuthenticated:
		return m.userID
	case StateAnonymous:
		return m.cred.ID
	}
	return ""
}

// Anonymous reports whether the session runs on the synthetic identity.
func (m *Manager) Anonymous() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateAuthenticated
}

// BeginAnonymous moves logged_out to anonymous on the persisted synthetic
// credential. Calling it in any other state is a no-op.
func (m *Manager) BeginAnonymous() {
	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = StateAnonymous
	m.mu.Unlock()

	log.Printf("[SESSION] anonymous as %s", m.cred.ID)
	m.bus.Emit(events.SessionChanged, Change{From: from, To: StateAnonymous, UserID: m.cred.ID})
}

// Authenticate moves the session to authenticated. Coming from anonymous
// it first migrates everything the synthetic identity owned onto the real
// user; a failed migration aborts the transition so no work is stranded.
func (m *Manager) Authenticate(ctx context.Context, userID string) error {
	if userID == "" {
		return apierrors.Invalid("User id is required", nil)
	}

	m.mu.Lock()
	from := m.state
	migrate := m.migrate
	if from == StateAuthenticated && m.userID == userID {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if from == StateAnonymous && migrate != nil {
		if err := migrate(ctx, m.cred.ID, userID); err != nil {
			return apierrors.Internal("Ownership migration failed", err)
		}
		log.Printf("[SESSION] migrated %s to %s", m.cred.ID, userID)
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.userID = userID
	m.mu.Unlock()

	log.Printf("[SESSION] authenticated as %s", userID)
	m.bus.Emit(events.SessionChanged, Change{From: from, To: StateAuthenticated, UserID: userID})
	return nil
}

// Logout drops back to logged_out. The anonymous credential stays on disk
// so the next BeginAnonymous resumes the same synthetic identity.
func (m *Manager) Logout() {
	m.mu.Lock()
	from := m.state
	if from == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	m.userID = ""
	m.mu.Unlock()

	log.Printf("[SESSION] logged out")
	m.bus.Emit(events.SessionChanged, Change{From: from, To: StateLoggedOut})
}
