package version

const (
	// MppaySemVer is the semantic version of the plugin.
	MppaySemVer = "0.1.0"
)

// GitCommit is the current HEAD set using ldflags.
var GitCommit string

// String returns the version, followed by the commit when known.
func String() string {
	if GitCommit != "" {
		return MppaySemVer + "-" + GitCommit
	}
	return MppaySemVer
}
