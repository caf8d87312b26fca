package version

var (
	// Stage2DWVerMajor is the major version of Stage2DW
	Stage2DWVerMajor = 0
	// Stage2DWVerMinor is the minor version of Stage2DW
	Stage2DWVerMinor = 1
	// Stage2DWVerPatch is the patch version of Stage2DW
	Stage2DWVerPatch = 0
	// Stage2DWVerName is an alternative name of the version
	Stage2DWVerName = "Stage2DW"
	// GitHash is the current git commit hash, set with -ldflags
	GitHash = "Unknown"
	// GitRef is the current git reference name (branch or tag)
	GitRef = "Unknown"
)
