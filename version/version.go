package version

import (
	"fmt"
	"runtime"
)

// Stage2DWVersion is the semver of Stage2DW
type Stage2DWVersion struct {
	major int
	minor int
	patch int
	name  string
}

// NewStage2DWVersion creates a Stage2DWVersion object
func NewStage2DWVersion() *Stage2DWVersion {
	return &Stage2DWVersion{
		major: Stage2DWVerMajor,
		minor: Stage2DWVerMinor,
		patch: Stage2DWVerPatch,
		name:  Stage2DWVerName,
	}
}

// Name returns the alternative name of the version
func (v *Stage2DWVersion) Name() string {
	return v.name
}

// SemVer returns the version in semver format
func (v *Stage2DWVersion) SemVer() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v *Stage2DWVersion) String() string {
	return fmt.Sprintf("%s %s\n%s", v.SemVer(), v.name, NewStage2DWBuildInfo())
}

// Stage2DWBuild is the info of building environment
type Stage2DWBuild struct {
	GitHash   string `json:"gitHash"`
	GitRef    string `json:"gitRef"`
	GoVersion string `json:"goVersion"`
}

func NewStage2DWBuildInfo() *Stage2DWBuild {
	return &Stage2DWBuild{
		GitHash:   GitHash,
		GitRef:    GitRef,
		GoVersion: runtime.Version(),
	}
}

func (v *Stage2DWBuild) String() string {
	return fmt.Sprintf("Go Version: %s\nGit Ref: %s\nGitHash: %s", v.GoVersion, v.GitRef, v.GitHash)
}
