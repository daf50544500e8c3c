package store

// Roots of the state tree.
const (
	IdentitiesRoot = "identities"
	SessionsRoot   = "sessions"
	AttendanceRoot = "attendance"
	AttemptsRoot   = "attempts"
)

func IdentityPath(id string) string { return Join(IdentitiesRoot, id) }

func DevicePath(identityID string) string { return Join(IdentitiesRoot, identityID, "device") }

func FacePath(identityID string) string { return Join(IdentitiesRoot, identityID, "face") }

func SessionPath(id string) string { return Join(SessionsRoot, id) }

func AttendancePath(identityID, sessionID string) string {
	return Join(AttendanceRoot, identityID, sessionID)
}

func AttemptsPath(identityID, sessionID string) string {
	return Join(AttemptsRoot, identityID, sessionID)
}
