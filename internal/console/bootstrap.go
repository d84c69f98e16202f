// ABOUTME: Bootstrap plans requested right after the driven channel opens
// ABOUTME: Each step begins a barrier topic and posts the request that resolves it

package console

import (
	"github.com/2389/cardea-console/internal/barrier"
	"github.com/2389/cardea-console/internal/capability"
	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/envelope"
)

// step is one bootstrap request. A step with perms is skipped unless the
// session's roles grant all of them.
type step struct {
	topic   barrier.Topic
	context envelope.Context
	typ     envelope.Type
	data    any
	perms   []string
}

var contactsQuery = map[string]any{
	"additional_tables": []string{"Demographic", "Passport"},
}

func adminPlan() []step {
	return []step{
		{topic: barrier.TopicTheme, context: envelope.ContextSettings, typ: envelope.TypeGetTheme},
		{topic: barrier.TopicSchemas, context: envelope.ContextSettings, typ: envelope.TypeGetSchemas},
		{
			topic: barrier.TopicContacts, context: envelope.ContextContacts, typ: envelope.TypeGetAll,
			data:  contactsQuery,
			perms: []string{capability.ContactsRead, capability.DemographicsRead},
		},
		{
			topic: barrier.TopicCredentials, context: envelope.ContextCredentials, typ: envelope.TypeGetAll,
			perms: []string{capability.CredentialsRead},
		},
		{
			topic: barrier.TopicPresentations, context: envelope.ContextPresentations, typ: envelope.TypeGetAll,
			perms: []string{capability.PresentationsRead},
		},
		{
			topic: barrier.TopicRoles, context: envelope.ContextRoles, typ: envelope.TypeGetAll,
			perms: []string{capability.RolesRead},
		},
		{topic: barrier.TopicOrganization, context: envelope.ContextSettings, typ: envelope.TypeGetOrganization},
		{
			topic: barrier.TopicSMTP, context: envelope.ContextSettings, typ: envelope.TypeGetSMTP,
			perms: []string{capability.SettingsUpdate},
		},
		{topic: barrier.TopicLogo, context: envelope.ContextImages, typ: envelope.TypeGetAll},
		{
			topic: barrier.TopicUsers, context: envelope.ContextUsers, typ: envelope.TypeGetAll,
			perms: []string{capability.UsersRead},
		},
	}
}

func anonPlan() []step {
	return []step{
		{topic: barrier.TopicTheme, context: envelope.ContextSettings, typ: envelope.TypeGetTheme},
		{topic: barrier.TopicSchemas, context: envelope.ContextSettings, typ: envelope.TypeGetSchemas},
		{topic: barrier.TopicOrganization, context: envelope.ContextSettings, typ: envelope.TypeGetOrganization},
		{topic: barrier.TopicLogo, context: envelope.ContextImages, typ: envelope.TypeGetAll},
	}
}

func planFor(kind channel.Kind) []step {
	if kind == channel.Admin {
		return adminPlan()
	}
	return anonPlan()
}

// planTopics lists every topic either plan can begin.
func planTopics() []barrier.Topic {
	seen := make(map[barrier.Topic]bool)
	var out []barrier.Topic
	for _, plan := range [][]step{adminPlan(), anonPlan()} {
		for _, s := range plan {
			if !seen[s.topic] {
				seen[s.topic] = true
				out = append(out, s.topic)
			}
		}
	}
	return out
}

// runBootstrap resets the barrier and requests every permitted topic on
// kind. Must run on the loop.
func (c *Console) runBootstrap(kind channel.Kind) {
	roles := c.session.Session().Roles
	c.barrier.Reset()

	sent := 0
	for _, s := range planFor(kind) {
		if len(s.perms) > 0 && !c.can(roles, s.perms...) {
			c.logger.Debug("bootstrap topic skipped", "topic", s.topic, "channel", kind.String())
			continue
		}
		c.barrier.Begin(s.topic)
		c.out.Post(c.ctx, kind, s.context, s.typ, s.data)
		sent++
	}
	c.barrier.Seal()
	c.logger.Info("bootstrap requested", "channel", kind.String(), "topics", sent)
}
