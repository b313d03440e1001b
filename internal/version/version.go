// Package version holds the build-version triple advertised to clients in
// CVR replies.
package version

import "github.com/blang/semver"

// Build is the set of fields a CVR reply needs beyond the protocol
// version already negotiated by VER.
type Build struct {
	Recommended semver.Version
	Minimum     semver.Version
	Current     semver.Version
	UpgradeURL  string
	StoreURL    string
}

// DefaultBuild is the build advertised when none is configured.
func DefaultBuild() Build {
	return Build{
		Recommended: semver.MustParse("8.5.1302"),
		Minimum:     semver.MustParse("8.1.178"),
		Current:     semver.MustParse("8.5.1302"),
		UpgradeURL:  "http://messenger.msn.com",
		StoreURL:    "http://messenger.msn.com",
	}
}

// CVRFields renders the five fields of the CVR reply line, in order.
func (b Build) CVRFields() [5]string {
	return [5]string{
		b.Recommended.String(),
		b.Minimum.String(),
		b.Current.String(),
		b.UpgradeURL,
		b.StoreURL,
	}
}
