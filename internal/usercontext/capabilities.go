package usercontext

import "slices"

// Role is the actor's role. RoleNone is the role of the anonymous context.
type Role string

const (
	RoleNone       Role = ""
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Capability is a permission token derived from a role.
type Capability string

const (
	CapPublicRead       Capability = "content:read_public"
	CapComplaintCreate  Capability = "complaints:create"
	CapComplaintReadOwn Capability = "complaints:read_own"
	CapComplaintReadAll Capability = "complaints:read_all"
	CapComplaintAssign  Capability = "complaints:assign"
	CapComplaintResolve Capability = "complaints:resolve"
	CapAnalyticsView    Capability = "analytics:view"
	CapUsersManage      Capability = "users:manage"
	CapSettingsManage   Capability = "settings:manage"
)

// roleCapabilities is the single source of truth for role → capabilities.
// Each role includes everything of the role below it.
var roleCapabilities = map[Role][]Capability{
	RoleNone: {CapPublicRead},
	RoleUser: {CapPublicRead, CapComplaintCreate, CapComplaintReadOwn},
	RoleAgent: {CapPublicRead, CapComplaintCreate, CapComplaintReadOwn,
		CapComplaintReadAll, CapComplaintResolve},
	RoleSupervisor: {CapPublicRead, CapComplaintCreate, CapComplaintReadOwn,
		CapComplaintReadAll, CapComplaintResolve, CapComplaintAssign, CapAnalyticsView},
	RoleAdmin: {CapPublicRead, CapComplaintCreate, CapComplaintReadOwn,
		CapComplaintReadAll, CapComplaintResolve, CapComplaintAssign, CapAnalyticsView,
		CapUsersManage, CapSettingsManage},
}

// ValidRole reports whether r is a known role (RoleNone included).
func ValidRole(r Role) bool {
	_, ok := roleCapabilities[r]
	return ok
}

// CapabilitiesFor returns the sorted capability set of r. Unknown roles get
// nil. The returned slice is freshly allocated.
func CapabilitiesFor(r Role) []Capability {
	caps, ok := roleCapabilities[r]
	if !ok {
		return nil
	}
	out := slices.Clone(caps)
	slices.Sort(out)
	return out
}

// Has reports whether c carries capability want.
func (c UserContext) Has(want Capability) bool {
	_, found := slices.BinarySearch(c.Capabilities, want)
	return found
}
