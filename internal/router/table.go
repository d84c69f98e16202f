// ABOUTME: The (context, type) routing table for inbound controller envelopes
// ABOUTME: Every bootstrap topic must be resolved by at least one route here

package router

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/cardea-console/internal/barrier"
	"github.com/2389/cardea-console/internal/envelope"
	"github.com/2389/cardea-console/internal/model"
	"github.com/2389/cardea-console/internal/reconcile"
	"github.com/2389/cardea-console/internal/state"
)

// RouteKind classifies what a route does to the client state.
type RouteKind int

const (
	// Assign replaces state directly.
	Assign RouteKind = iota
	// Reconcile merges a pushed collection into the held one.
	Reconcile
	// ErrorSurface sets the user-visible error message. It never resolves a
	// bootstrap topic.
	ErrorSurface
	// ClearBarrier sets the error message and drops every pending topic.
	ClearBarrier
	// Notify raises a transient notification and leaves state alone.
	Notify
)

func (k RouteKind) String() string {
	switch k {
	case Assign:
		return "assign"
	case Reconcile:
		return "reconcile"
	case ErrorSurface:
		return "error_surface"
	case ClearBarrier:
		return "clear_barrier"
	case Notify:
		return "notify"
	default:
		return fmt.Sprintf("route_kind(%d)", int(k))
	}
}

// Route is the handler for one (context, type) pair.
type Route struct {
	Kind RouteKind
	// Resolves is the bootstrap topic answered by this route, if any.
	Resolves barrier.Topic
	// Apply updates the store. Used by every kind except Notify.
	Apply func(st *state.Store, data json.RawMessage) error
	// Message builds the notification of a Notify route.
	Message func(data json.RawMessage) (state.Notification, error)
}

// Pair names a routed (context, type).
type Pair struct {
	Context envelope.Context
	Type    envelope.Type
}

func (p Pair) String() string {
	return string(p.Context) + "/" + string(p.Type)
}

// Table maps context then type to a route.
type Table map[envelope.Context]map[envelope.Type]Route

// Lookup returns the route for a pair. contextKnown reports whether the
// context has any routes at all.
func (t Table) Lookup(c envelope.Context, typ envelope.Type) (route Route, ok, contextKnown bool) {
	byType, contextKnown := t[c]
	if !contextKnown {
		return Route{}, false, false
	}
	route, ok = byType[typ]
	return route, ok, true
}

// Resolvers lists, per topic, the pairs whose route resolves it.
func (t Table) Resolvers() map[barrier.Topic][]Pair {
	out := make(map[barrier.Topic][]Pair)
	for c, byType := range t {
		for typ, r := range byType {
			if r.Resolves == "" {
				continue
			}
			out[r.Resolves] = append(out[r.Resolves], Pair{Context: c, Type: typ})
		}
	}
	for _, pairs := range out {
		slices.SortFunc(pairs, func(a, b Pair) int { return strings.Compare(a.String(), b.String()) })
	}
	return out
}

// CheckCoverage returns an error naming every topic no route resolves. A
// bootstrap that begins such a topic would never become ready.
func (t Table) CheckCoverage(topics []barrier.Topic) error {
	resolvers := t.Resolvers()
	var missing []string
	for _, topic := range topics {
		if len(resolvers[topic]) == 0 {
			missing = append(missing, string(topic))
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("no route resolves bootstrap topics: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultTable returns the routes for every envelope the controller pushes.
func DefaultTable() Table {
	return Table{
		envelope.ContextError: {
			envelope.TypeServerError:    {Kind: Notify, Message: serverError},
			envelope.TypeWebsocketError: {Kind: ClearBarrier, Apply: surfaceError},
		},
		envelope.ContextInvitations: {
			envelope.TypeInvitation:       {Kind: Assign, Apply: assignQRCode("invitation_record.invitation_url")},
			envelope.TypeInvitationsError: {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextContacts: {
			envelope.TypeContacts:      {Kind: Reconcile, Resolves: barrier.TopicContacts, Apply: reconcileContacts},
			envelope.TypeContactsError: {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextOutOfBand: {
			envelope.TypeInvitation:       {Kind: Assign, Apply: assignQRCode("invitation_record")},
			envelope.TypeInvitationsError: {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextDemographics: {
			envelope.TypeDemographicsError: {Kind: ErrorSurface, Apply: surfaceError},
			envelope.TypeContactsError:     {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextRoles: {
			envelope.TypeRoles: {Kind: Reconcile, Resolves: barrier.TopicRoles, Apply: reconcileRoles},
		},
		envelope.ContextUsers: {
			envelope.TypeUsers:           {Kind: Reconcile, Resolves: barrier.TopicUsers, Apply: reconcileUsers},
			envelope.TypeUser:            {Kind: Assign, Apply: assignUser},
			envelope.TypeUserUpdated:     {Kind: Assign, Apply: replaceUser("updatedUser", true)},
			envelope.TypePasswordUpdated: {Kind: Assign, Apply: replaceUser("updatedUserPassword", false)},
			envelope.TypeUserCreated:     {Kind: Assign, Apply: createUser},
			envelope.TypeUserDeleted:     {Kind: Assign, Apply: deleteUser},
			envelope.TypeUserError:       {Kind: ErrorSurface, Apply: surfaceError},
			envelope.TypeUserSuccess:     {Kind: Assign, Apply: surfaceSuccess},
		},
		envelope.ContextCredentials: {
			envelope.TypeCredentials:      {Kind: Reconcile, Resolves: barrier.TopicCredentials, Apply: reconcileCredentials},
			envelope.TypeCredentialsError: {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextPresentations: {
			envelope.TypeTrustedTravelerVerified: {Kind: Assign, Apply: verificationSucceeded},
			envelope.TypeVerificationFailed:      {Kind: Assign, Apply: verificationFailed},
			envelope.TypePresentationReports:     {Kind: Reconcile, Resolves: barrier.TopicPresentations, Apply: reconcilePresentations},
		},
		envelope.ContextSettings: {
			envelope.TypeSettingsTheme:        {Kind: Assign, Resolves: barrier.TopicTheme, Apply: assignTheme},
			envelope.TypeSettingsSchemas:      {Kind: Assign, Resolves: barrier.TopicSchemas, Apply: assignSchemas},
			envelope.TypeLogo:                 {Kind: Assign, Resolves: barrier.TopicLogo, Apply: assignImage},
			envelope.TypeSettingsOrganization: {Kind: Assign, Resolves: barrier.TopicOrganization, Apply: assignOrganization},
			envelope.TypeSettingsSMTP:         {Kind: Assign, Resolves: barrier.TopicSMTP, Apply: assignSMTP},
			envelope.TypeSettingsError:        {Kind: ErrorSurface, Apply: surfaceError},
			envelope.TypeSettingsSuccess:      {Kind: Assign, Apply: surfaceSuccess},
		},
		envelope.ContextImages: {
			envelope.TypeImageList:   {Kind: Assign, Resolves: barrier.TopicLogo, Apply: assignImage},
			envelope.TypeImagesError: {Kind: ErrorSurface, Apply: surfaceError},
		},
		envelope.ContextOrganization: {
			envelope.TypeOrganizationName: {Kind: Assign, Resolves: barrier.TopicOrganization, Apply: assignOrganizationName},
		},
		envelope.ContextGovernance: {
			envelope.TypePrivilegesError:   {Kind: ErrorSurface, Apply: surfaceError},
			envelope.TypePrivilegesSuccess: {Kind: Assign, Apply: assignPrivileges},
		},
	}
}

func serverError(data json.RawMessage) (state.Notification, error) {
	m, err := object(data)
	if err != nil {
		return state.Notification{}, err
	}
	return state.Notification{
		Message: fmt.Sprintf("Server Error - %s \n Reason: '%s'", text(m["errorCode"]), text(m["errorReason"])),
		Level:   state.LevelError,
	}, nil
}

func surfaceError(st *state.Store, data json.RawMessage) error {
	if _, err := object(data); err != nil {
		return err
	}
	msg := text(optional(data, "error"))
	st.Update(state.FieldResponse, func(s *state.State) { s.ErrorMessage = msg })
	return nil
}

func surfaceSuccess(st *state.Store, data json.RawMessage) error {
	msg := text(data)
	st.Update(state.FieldResponse, func(s *state.State) { s.SuccessMessage = msg })
	return nil
}

func assignQRCode(path string) func(*state.Store, json.RawMessage) error {
	return func(st *state.Store, data json.RawMessage) error {
		raw, err := field(data, path)
		if err != nil {
			return err
		}
		url := text(raw)
		st.Update(state.FieldQRCode, func(s *state.State) { s.QRCodeURL = url })
		return nil
	}
}

func reconcileInto(spec reconcile.Spec, path string, f state.Field, get func(*state.State) *[]model.Record) func(*state.Store, json.RawMessage) error {
	return func(st *state.Store, data json.RawMessage) error {
		batch, err := records(data, path)
		if err != nil {
			return err
		}
		st.Update(f, func(s *state.State) {
			list := get(s)
			*list = spec.Apply(*list, batch)
		})
		return nil
	}
}

var (
	reconcileContacts = reconcileInto(reconcile.Contacts, "contacts", state.FieldContacts,
		func(s *state.State) *[]model.Record { return &s.Contacts })
	reconcileRoles = reconcileInto(reconcile.Roles, "roles", state.FieldRoles,
		func(s *state.State) *[]model.Record { return &s.Roles })
	reconcileUsers = reconcileInto(reconcile.Users, "users", state.FieldUsers,
		func(s *state.State) *[]model.Record { return &s.Users })
)

// reconcileVerifying merges a batch and clears the pending verification when
// a pushed record carries the awaited connection id.
func reconcileVerifying(spec reconcile.Spec, path string, f state.Field, get func(*state.State) *[]model.Record) func(*state.Store, json.RawMessage) error {
	return func(st *state.Store, data json.RawMessage) error {
		batch, err := records(data, path)
		if err != nil {
			return err
		}
		st.Update(f, func(s *state.State) {
			list := get(s)
			*list = spec.Apply(*list, batch)
			if s.PendingConnectionID == "" {
				return
			}
			for _, r := range batch {
				if r != nil && r.String("connection_id") == s.PendingConnectionID {
					s.PendingConnectionID = ""
					return
				}
			}
		})
		return nil
	}
}

var (
	reconcileCredentials = reconcileVerifying(reconcile.Credentials, "credential_records", state.FieldCredentials,
		func(s *state.State) *[]model.Record { return &s.Credentials })
	reconcilePresentations = reconcileVerifying(reconcile.Presentations, "presentation_reports", state.FieldPresentationReports,
		func(s *state.State) *[]model.Record { return &s.PresentationReports })
)

func assignUser(st *state.Store, data json.RawMessage) error {
	user, err := record(data, "user")
	if err != nil {
		return err
	}
	st.Update(state.FieldUser, func(s *state.State) { s.User = user })
	return nil
}

// replaceUser swaps the held user with the same user_id for the pushed one.
func replaceUser(path string, setCurrent bool) func(*state.Store, json.RawMessage) error {
	return func(st *state.Store, data json.RawMessage) error {
		updated, err := record(data, path)
		if err != nil {
			return err
		}
		key, ok := updated.Key(reconcile.Users.IDField)
		if !ok {
			return fmt.Errorf("reading %s: missing %s", path, reconcile.Users.IDField)
		}
		st.Update(state.FieldUsers, func(s *state.State) {
			users := slices.Clone(s.Users)
			for i, u := range users {
				if k, ok := u.Key(reconcile.Users.IDField); ok && k == key {
					users[i] = updated
				}
			}
			s.Users = users
			if setCurrent {
				s.User = updated
			}
		})
		return nil
	}
}

func createUser(st *state.Store, data json.RawMessage) error {
	created, err := record(data, "user")
	if err != nil {
		return err
	}
	st.Update(state.FieldUsers, func(s *state.State) {
		s.Users = reconcile.Users.Apply(s.Users, []model.Record{created})
		s.User = created
	})
	return nil
}

// deleteUser removes the user whose id is the payload itself.
func deleteUser(st *state.Store, data json.RawMessage) error {
	var id any
	if err := decodeNumbers(data, &id); err != nil {
		return fmt.Errorf("reading deleted user id: %w", err)
	}
	key, ok := model.Record{reconcile.Users.IDField: id}.Key(reconcile.Users.IDField)
	if !ok {
		return fmt.Errorf("deleted user id is not a scalar")
	}
	st.Update(state.FieldUsers, func(s *state.State) {
		s.Users = slices.DeleteFunc(slices.Clone(s.Users), func(u model.Record) bool {
			k, ok := u.Key(reconcile.Users.IDField)
			return ok && k == key
		})
	})
	return nil
}

func verificationSucceeded(st *state.Store, data json.RawMessage) error {
	if _, err := object(data); err != nil {
		return err
	}
	connID := text(optional(data, "connection_id"))
	attrs := clone(optional(data, "revealed_attrs"))
	st.Update(state.FieldVerification, func(s *state.State) {
		s.PendingConnectionID = connID
		s.VerifiedCredential = attrs
		s.VerificationStatus = true
	})
	return nil
}

func verificationFailed(st *state.Store, _ json.RawMessage) error {
	st.Update(state.FieldVerification, func(s *state.State) {
		s.VerifiedCredential = nil
		s.VerificationStatus = false
	})
	return nil
}

func assignTheme(st *state.Store, data json.RawMessage) error {
	raw, err := field(data, "value")
	if err != nil {
		return err
	}
	theme, err := model.DecodeTheme(raw)
	if err != nil {
		return err
	}
	if theme == nil {
		// No theme configured on the controller; keep the current one.
		return nil
	}
	st.Update(state.FieldTheme, func(s *state.State) { s.Theme = theme })
	return nil
}

func assignSchemas(st *state.Store, data json.RawMessage) error {
	schemas := clone(data)
	st.Update(state.FieldSchemas, func(s *state.State) { s.Schemas = schemas })
	return nil
}

func assignImage(st *state.Store, data json.RawMessage) error {
	image := clone(data)
	st.Update(state.FieldImage, func(s *state.State) { s.Image = image })
	return nil
}

func assignOrganization(st *state.Store, data json.RawMessage) error {
	if _, err := object(data); err != nil {
		return err
	}
	name := text(optional(data, "organizationName"))
	title := text(optional(data, "title"))
	st.Update(state.FieldOrganization, func(s *state.State) {
		s.OrganizationName = name
		s.SiteTitle = title
	})
	return nil
}

// assignOrganizationName reads data[0].value.name.
func assignOrganizationName(st *state.Store, data json.RawMessage) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("reading organization name: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("reading organization name: empty list")
	}
	raw, err := field(rows[0], "value.name")
	if err != nil {
		return err
	}
	name := text(raw)
	st.Update(state.FieldOrganization, func(s *state.State) { s.OrganizationName = name })
	return nil
}

func assignSMTP(st *state.Store, data json.RawMessage) error {
	raw, err := field(data, "value")
	if err != nil {
		return err
	}
	smtp := clone(raw)
	st.Update(state.FieldSMTP, func(s *state.State) { s.SMTP = smtp })
	return nil
}

func assignPrivileges(st *state.Store, data json.RawMessage) error {
	raw, err := field(data, "privileges")
	if err != nil {
		return err
	}
	privileges := clone(raw)
	st.Update(state.FieldPrivileges, func(s *state.State) { s.Privileges = privileges })
	return nil
}
