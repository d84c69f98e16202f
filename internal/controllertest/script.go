// ABOUTME: Default fixtures and scripted replies for the fake controller
// ABOUTME: Answers every bootstrap request and invitation creation like a real controller

package controllertest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/cardea-console/internal/envelope"
)

// Fixtures is the data the default script serves.
type Fixtures struct {
	Theme         map[string]string
	Schemas       []map[string]any
	Organization  string
	SiteTitle     string
	SMTP          map[string]any
	Logo          map[string]any
	Contacts      []map[string]any
	Credentials   []map[string]any
	Presentations []map[string]any
	Roles         []map[string]any
	Users         []map[string]any
}

// DefaultFixtures returns a small, internally consistent data set.
func DefaultFixtures() *Fixtures {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	at := func(h int) string { return base.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }

	return &Fixtures{
		Theme: map[string]string{
			"primary_color":   "#0b3d91",
			"secondary_color": "#f2a900",
		},
		Schemas: []map[string]any{
			{"schema_id": "4zQk:2:Passport:1.0", "schema_name": "Passport", "schema_version": "1.0"},
		},
		Organization: "Cardea Health",
		SiteTitle:    "Cardea Admin",
		SMTP: map[string]any{
			"host": "smtp.example.com",
			"auth": map[string]any{"user": "mailer"},
		},
		Logo: map[string]any{"name": "logo", "type": "logo", "image": "aGVsbG8="},
		Contacts: []map[string]any{
			{"contact_id": 1, "label": "Alice", "created_at": at(0)},
			{"contact_id": 2, "label": "Bob", "created_at": at(2)},
		},
		Credentials: []map[string]any{
			{"credential_exchange_id": uuid.NewString(), "connection_id": "conn-1", "state": "credential_acked", "created_at": at(1)},
		},
		Presentations: []map[string]any{
			{"presentation_exchange_id": uuid.NewString(), "connection_id": "conn-2", "state": "verified", "created_at": at(3)},
		},
		Roles: []map[string]any{
			{"role_id": 1, "role_name": "admin"},
			{"role_id": 2, "role_name": "moderator"},
		},
		Users: []map[string]any{
			{"user_id": 1, "username": "admin", "email": "admin@example.com", "created_at": at(0)},
		},
	}
}

// installScript registers replies for every request the console sends.
func (s *Server) installScript(f *Fixtures) {
	s.Respond(envelope.ContextSettings, envelope.TypeGetTheme,
		mustEnvelope(envelope.ContextSettings, envelope.TypeSettingsTheme, map[string]any{"key": "theme", "value": f.Theme}))
	s.Respond(envelope.ContextSettings, envelope.TypeGetSchemas,
		mustEnvelope(envelope.ContextSettings, envelope.TypeSettingsSchemas, f.Schemas))
	s.Respond(envelope.ContextSettings, envelope.TypeGetOrganization,
		mustEnvelope(envelope.ContextSettings, envelope.TypeSettingsOrganization, map[string]any{
			"organizationName": f.Organization,
			"title":            f.SiteTitle,
		}))
	s.Respond(envelope.ContextSettings, envelope.TypeGetSMTP,
		mustEnvelope(envelope.ContextSettings, envelope.TypeSettingsSMTP, map[string]any{"key": "smtp", "value": f.SMTP}))
	s.Respond(envelope.ContextImages, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextImages, envelope.TypeImageList, []map[string]any{f.Logo}))

	s.Respond(envelope.ContextContacts, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextContacts, envelope.TypeContacts, map[string]any{"contacts": f.Contacts}))
	s.Respond(envelope.ContextCredentials, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextCredentials, envelope.TypeCredentials, map[string]any{"credential_records": f.Credentials}))
	s.Respond(envelope.ContextPresentations, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextPresentations, envelope.TypePresentationReports, map[string]any{"presentation_reports": f.Presentations}))
	s.Respond(envelope.ContextRoles, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextRoles, envelope.TypeRoles, map[string]any{"roles": f.Roles}))
	s.Respond(envelope.ContextUsers, envelope.TypeGetAll,
		mustEnvelope(envelope.ContextUsers, envelope.TypeUsers, map[string]any{"users": f.Users}))

	s.Handle(envelope.ContextSettings, envelope.TypeSetTheme, func(req Request) []envelope.Envelope {
		return []envelope.Envelope{
			mustEnvelope(envelope.ContextSettings, envelope.TypeSettingsSuccess, "Theme updated"),
			{Context: envelope.ContextSettings, Type: envelope.TypeSettingsTheme, Data: wrapValue(req.Envelope.Data)},
		}
	})

	s.Handle(envelope.ContextInvitations, envelope.TypeCreateSingleUse, func(Request) []envelope.Envelope {
		id := uuid.NewString()
		return []envelope.Envelope{mustEnvelope(envelope.ContextInvitations, envelope.TypeInvitation, map[string]any{
			"invitation_record": map[string]any{
				"connection_id":  id,
				"invitation_url": fmt.Sprintf("https://controller.example.com/invite?c_i=%s", id),
			},
		})}
	})
}

func wrapValue(raw []byte) []byte {
	return []byte(`{"key":"theme","value":` + string(raw) + `}`)
}

func mustEnvelope(c envelope.Context, t envelope.Type, data any) envelope.Envelope {
	env, err := envelope.New(c, t, data)
	if err != nil {
		panic(fmt.Sprintf("building %s/%s: %v", c, t, err))
	}
	return env
}
