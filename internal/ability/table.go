package ability

import "sort"

// Actions understood by the portal.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

// Canonical subjects used by pages, navigation and controls.
const (
	SubjectDashboard      = "Dashboard"
	SubjectClient         = "Client"
	SubjectEmployee       = "Employee"
	SubjectEquipment      = "Equipment"
	SubjectInstallation   = "Installation"
	SubjectPayment        = "Payment"
	SubjectPermission     = "Permission"
	SubjectPlan           = "Plan"
	SubjectResource       = "Resource"
	SubjectRole           = "Role"
	SubjectSector         = "Sector"
	SubjectService        = "Service"
	SubjectSubscription   = "Subscription"
	SubjectTicket         = "Ticket"
	SubjectUser           = "User"
	SubjectActor          = "Actor"
	SubjectPerson         = "Person"
	SubjectOrganization   = "Organization"
	SubjectUserRole       = "UserRole"
	SubjectRolePermission = "RolePermission"
)

// subjectTable maps backend resource keys to canonical subjects. The backend
// uses both singular and plural keys in its permission vocabulary.
var subjectTable = map[string]string{
	"dashboard":        SubjectDashboard,
	"client":           SubjectClient,
	"clients":          SubjectClient,
	"employee":         SubjectEmployee,
	"employees":        SubjectEmployee,
	"equipment":        SubjectEquipment,
	"equipments":       SubjectEquipment,
	"installation":     SubjectInstallation,
	"installations":    SubjectInstallation,
	"payment":          SubjectPayment,
	"payments":         SubjectPayment,
	"permission":       SubjectPermission,
	"permissions":      SubjectPermission,
	"plan":             SubjectPlan,
	"plans":            SubjectPlan,
	"resource":         SubjectResource,
	"resources":        SubjectResource,
	"role":             SubjectRole,
	"roles":            SubjectRole,
	"sector":           SubjectSector,
	"sectors":          SubjectSector,
	"service":          SubjectService,
	"services":         SubjectService,
	"subscription":     SubjectSubscription,
	"subscriptions":    SubjectSubscription,
	"ticket":           SubjectTicket,
	"tickets":          SubjectTicket,
	"user":             SubjectUser,
	"users":            SubjectUser,
	"actor":            SubjectActor,
	"actors":           SubjectActor,
	"person":           SubjectPerson,
	"persons":          SubjectPerson,
	"people":           SubjectPerson,
	"organization":     SubjectOrganization,
	"organizations":    SubjectOrganization,
	"user-role":        SubjectUserRole,
	"user-roles":       SubjectUserRole,
	"role-permission":  SubjectRolePermission,
	"role-permissions": SubjectRolePermission,
}

var canonicalSubjects = func() []string {
	seen := make(map[string]struct{}, len(subjectTable))
	subjects := make([]string, 0, len(subjectTable))
	for _, subject := range subjectTable {
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}()

// Subjects returns the canonical subject names, sorted.
func Subjects() []string {
	out := make([]string, len(canonicalSubjects))
	copy(out, canonicalSubjects)
	return out
}

// SubjectFor returns the canonical subject for a backend resource key.
func SubjectFor(resourceKey string) (string, bool) {
	subject, ok := subjectTable[resourceKey]
	return subject, ok
}
