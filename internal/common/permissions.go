package common

// Modes for files and directories written by the tool.
const (
	// FilePermissionSecure covers configuration, credentials and deployment records.
	FilePermissionSecure = 0600

	// FilePermissionNormal covers scaffolded project files.
	FilePermissionNormal = 0644

	// DirPermissionSecure covers the credential and state directories.
	DirPermissionSecure = 0700

	DirPermissionNormal = 0755
)
