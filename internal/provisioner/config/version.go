package config

import (
	"github.com/Masterminds/semver/v3"
)

// FormatVersion is the configuration file format understood by this build.
const FormatVersion = "0.1.0"

// Files written for any 0.1.x format are accepted.
var formatConstraint *semver.Constraints

func init() {
	var err error
	formatConstraint, err = semver.NewConstraint("~" + FormatVersion)
	if err != nil {
		panic(err)
	}
}

func IsFormatVersionCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return formatConstraint.Check(v)
}

// Reported by the version endpoint.
const (
	ServerVersion = "0.1.0"
	APIVersion    = "v1"
)
