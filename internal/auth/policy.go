package auth

import (
	"sort"

	"github.com/sakif/tripcms/internal/model"
)

// Operation names a protected, state-changing action.
type Operation string

const (
	OpUserCreate Operation = "user.create"
	OpUserList   Operation = "user.list"
	OpUserUpdate Operation = "user.update"
	OpUserDelete Operation = "user.delete"

	OpSettingsUpdate Operation = "settings.update"

	OpTripCreate Operation = "trip.create"
	OpTripUpdate Operation = "trip.update"
	OpTripDelete Operation = "trip.delete"

	OpPartyTemplateCreate Operation = "party_template.create"
	OpPartyTemplateUpdate Operation = "party_template.update"
	OpPartyTemplateDelete Operation = "party_template.delete"

	OpItineraryCreate Operation = "itinerary.create"
	OpItineraryUpdate Operation = "itinerary.update"
	OpItineraryDelete Operation = "itinerary.delete"

	OpEventCreate Operation = "event.create"
	OpEventUpdate Operation = "event.update"
	OpEventDelete Operation = "event.delete"

	OpTalentCreate Operation = "talent.create"
	OpTalentUpdate Operation = "talent.update"
	OpTalentDelete Operation = "talent.delete"

	OpInfoUpdate Operation = "info.update"

	OpMediaUpload Operation = "media.upload"
	OpMediaDelete Operation = "media.delete"
)

// Role sets reused by the table below. Each table row still lists its own
// set; these only keep the rows short.
var (
	superAdminOnly = roles(model.RoleSuperAdmin)
	tripAdmins     = roles(model.RoleSuperAdmin, model.RoleTripAdmin)
	contentEditors = roles(model.RoleSuperAdmin, model.RoleTripAdmin, model.RoleContentEditor)
	mediaManagers  = roles(model.RoleSuperAdmin, model.RoleTripAdmin, model.RoleContentEditor, model.RoleMediaManager)
)

// policy is the single source of truth for who may perform what.
// An operation missing from the table is denied to everyone.
var policy = map[Operation]map[model.Role]struct{}{
	OpUserCreate: superAdminOnly,
	OpUserList:   superAdminOnly,
	OpUserUpdate: superAdminOnly,
	OpUserDelete: superAdminOnly,

	OpSettingsUpdate: superAdminOnly,

	OpTripCreate: tripAdmins,
	OpTripUpdate: tripAdmins,
	OpTripDelete: tripAdmins,

	OpPartyTemplateCreate: tripAdmins,
	OpPartyTemplateUpdate: tripAdmins,
	OpPartyTemplateDelete: tripAdmins,

	OpItineraryCreate: contentEditors,
	OpItineraryUpdate: contentEditors,
	OpItineraryDelete: contentEditors,

	OpEventCreate: contentEditors,
	OpEventUpdate: contentEditors,
	OpEventDelete: contentEditors,

	OpTalentCreate: contentEditors,
	OpTalentUpdate: contentEditors,
	OpTalentDelete: contentEditors,

	OpInfoUpdate: contentEditors,

	OpMediaUpload: mediaManagers,
	OpMediaDelete: mediaManagers,
}

func roles(rs ...model.Role) map[model.Role]struct{} {
	m := make(map[model.Role]struct{}, len(rs))
	for _, r := range rs {
		m[r] = struct{}{}
	}
	return m
}

// Allowed is the permission gate: it reports whether role may perform op.
func Allowed(op Operation, role model.Role) bool {
	allowed, ok := policy[op]
	if !ok {
		return false
	}
	_, ok = allowed[role]
	return ok
}

// allowedRoles returns the roles permitted to perform op, lowest first.
func allowedRoles(op Operation) []model.Role {
	out := make([]model.Role, 0, len(policy[op]))
	for r := range policy[op] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// operations lists every operation in the table, sorted by name.
func operations() []Operation {
	out := make([]Operation, 0, len(policy))
	for op := range policy {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
