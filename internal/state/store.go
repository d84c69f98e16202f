// ABOUTME: Client-held state mirrored from controller pushes
// ABOUTME: Owns the entity collections, settings, response messages and theme edits

package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/cardea-console/internal/model"
)

// Field names one replaceable part of the client state.
type Field string

// State fields.
const (
	FieldAll                 Field = "*"
	FieldContacts            Field = "contacts"
	FieldUsers               Field = "users"
	FieldUser                Field = "user"
	FieldRoles               Field = "roles"
	FieldCredentials         Field = "credentials"
	FieldPresentationReports Field = "presentation_reports"
	FieldTheme               Field = "theme"
	FieldStyles              Field = "styles"
	FieldSchemas             Field = "schemas"
	FieldImage               Field = "image"
	FieldOrganization        Field = "organization"
	FieldSMTP                Field = "smtp"
	FieldPrivileges          Field = "privileges"
	FieldQRCode              Field = "qr_code"
	FieldResponse            Field = "response"
	FieldVerification        Field = "verification"
	FieldReady               Field = "ready"
	FieldSession             Field = "session"
)

// State is a point-in-time view of everything the console mirrors.
type State struct {
	Contacts            []model.Record
	Users               []model.Record
	Roles               []model.Record
	Credentials         []model.Record
	PresentationReports []model.Record

	User model.Record

	Theme  model.Theme
	Styles []string

	Schemas          json.RawMessage
	Image            json.RawMessage
	OrganizationName string
	SiteTitle        string
	SMTP             json.RawMessage
	Privileges       json.RawMessage
	QRCodeURL        string

	ErrorMessage   string
	SuccessMessage string

	PendingConnectionID string
	VerifiedCredential  json.RawMessage
	VerificationStatus  bool

	Ready bool
}

func (s State) clone() State {
	out := s
	out.Contacts = slices.Clone(s.Contacts)
	out.Users = slices.Clone(s.Users)
	out.Roles = slices.Clone(s.Roles)
	out.Credentials = slices.Clone(s.Credentials)
	out.PresentationReports = slices.Clone(s.PresentationReports)
	out.User = s.User.Clone()
	out.Theme = s.Theme.Clone()
	out.Styles = slices.Clone(s.Styles)
	return out
}

// Store holds the client state. Records inside collections are never
// modified in place; updates replace them.
type Store struct {
	mu       sync.RWMutex
	s        State
	version  uint64
	defaults model.Theme

	bc     *Broadcaster
	logger *slog.Logger
}

// NewStore creates a store whose theme starts as, and undoes to, defaults.
func NewStore(defaults model.Theme, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults == nil {
		defaults = model.DefaultTheme()
	}
	return &Store{
		s:        State{Theme: defaults.Clone()},
		defaults: defaults.Clone(),
		bc:       NewBroadcaster(logger),
		logger:   logger.With("component", "state"),
	}
}

// Snapshot returns a copy safe to read while the store keeps changing.
func (st *Store) Snapshot() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.clone()
}

// Version increases with every update.
func (st *Store) Version() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.version
}

// Update applies fn under the write lock and announces field as changed.
// fn must not call back into the store.
func (st *Store) Update(field Field, fn func(s *State)) {
	st.mu.Lock()
	fn(&st.s)
	st.version++
	v := st.version
	st.mu.Unlock()

	st.bc.Publish(Change{Field: field, Version: v})
}

// Subscribe delivers changes to field (FieldAll for every change) until ctx
// ends.
func (st *Store) Subscribe(ctx context.Context, field Field) <-chan Change {
	ch, _ := st.bc.Subscribe(ctx, field)
	return ch
}

// Close releases every subscriber.
func (st *Store) Close() {
	st.bc.Close()
}

// SetReady mirrors the loading barrier.
func (st *Store) SetReady(ready bool) {
	st.Update(FieldReady, func(s *State) { s.Ready = ready })
}

// Defaults returns the theme used for undo.
func (st *Store) Defaults() model.Theme {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.defaults.Clone()
}

// UpdateTheme overlays update on the current theme without persisting it.
func (st *Store) UpdateTheme(update model.Theme) {
	st.Update(FieldTheme, func(s *State) { s.Theme = s.Theme.Merge(update) })
}

// UndoStyle restores one theme key to its default. Unknown keys are ignored.
func (st *Store) UndoStyle(key string) bool {
	st.mu.RLock()
	def, ok := st.defaults[key]
	st.mu.RUnlock()
	if !ok {
		return false
	}
	st.Update(FieldTheme, func(s *State) { s.Theme = s.Theme.Merge(model.Theme{key: def}) })
	return true
}

// AddStyle records a theme key as edited. Keys are kept once.
func (st *Store) AddStyle(key string) {
	st.Update(FieldStyles, func(s *State) {
		if !slices.Contains(s.Styles, key) {
			s.Styles = append(slices.Clone(s.Styles), key)
		}
	})
}

// RemoveStyle drops a theme key from the edited list.
func (st *Store) RemoveStyle(key string) {
	st.Update(FieldStyles, func(s *State) {
		if i := slices.Index(s.Styles, key); i >= 0 {
			s.Styles = slices.Delete(slices.Clone(s.Styles), i, i+1)
		}
	})
}

// ClearResponseState dismisses the error and success messages.
func (st *Store) ClearResponseState() {
	st.Update(FieldResponse, func(s *State) {
		s.ErrorMessage = ""
		s.SuccessMessage = ""
	})
}
