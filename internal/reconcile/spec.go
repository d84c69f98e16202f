// ABOUTME: Per-domain reconciliation settings for controller collections
// ABOUTME: Names the identifier and creation timestamp field of each record type

package reconcile

import "github.com/2389/cardea-console/internal/model"

// Spec describes how one domain collection is reconciled.
type Spec struct {
	Name         string
	IDField      string
	CreatedField string // empty: keep merge order
}

// Domain collections pushed by the controller.
var (
	Contacts      = Spec{Name: "contacts", IDField: "contact_id", CreatedField: "created_at"}
	Users         = Spec{Name: "users", IDField: "user_id", CreatedField: "created_at"}
	Roles         = Spec{Name: "roles", IDField: "role_id"}
	Credentials   = Spec{Name: "credentials", IDField: "credential_exchange_id", CreatedField: "created_at"}
	Presentations = Spec{Name: "presentation_reports", IDField: "presentation_exchange_id", CreatedField: "created_at"}
)

// Apply merges incoming into old. Null records in either list are dropped.
func (s Spec) Apply(old, incoming []model.Record) []model.Record {
	merged := Merge(dropNil(old), dropNil(incoming), func(r model.Record) (string, bool) {
		return r.Key(s.IDField)
	})
	if s.CreatedField != "" {
		SortNewestFirst(merged, func(r model.Record) (model.Timestamp, bool) {
			return r.Timestamp(s.CreatedField)
		})
	}
	return merged
}

func dropNil(list []model.Record) []model.Record {
	out := make([]model.Record, 0, len(list))
	for _, r := range list {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
