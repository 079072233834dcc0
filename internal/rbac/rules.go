package rbac

const (
	PermSessionStart    = "session:start"
	PermSessionAnswer   = "session:answer"
	PermSessionSubmit   = "session:submit"
	PermSessionViewOwn  = "session:view-own"
	PermSessionViewAll  = "session:view-all"
	PermSessionCloseAny = "session:close-any"
	PermJournalView     = "journal:view"
)

// Default policy. Proctors can watch any session but not act in it.
var RolePermissions = map[string][]string{
	"student": {
		PermSessionStart,
		PermSessionAnswer,
		PermSessionSubmit,
		PermSessionViewOwn,
	},
	"proctor": {
		PermSessionViewAll,
		PermJournalView,
	},
	"admin": {
		"*", // everything
	},
}
