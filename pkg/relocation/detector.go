// Package relocation tells legitimate site-to-site moves apart from boundary jitter
package relocation

import (
	"github.com/sitegate/sitegate/pkg"
)

// Change describes a move between authorized sites within one work-day
type Change struct {
	Changed          bool   `json:"changed"`
	PreviousSiteName string `json:"previous_site_name,omitempty"`
}

// Detect compares a validation against the last registration of the day.
// A change needs a valid result at a different site and a known previous site.
func Detect(result pkg.ValidationResult, previous *pkg.Registration) Change {
	if previous == nil || previous.SiteID == "" {
		return Change{}
	}
	if !result.Valid || result.ClosestSite == nil {
		return Change{}
	}
	if result.ClosestSite.ID == previous.SiteID {
		return Change{}
	}
	return Change{Changed: true, PreviousSiteName: previous.SiteName}
}

// Apply stamps the change onto result
func Apply(result pkg.ValidationResult, previous *pkg.Registration) (pkg.ValidationResult, Change) {
	c := Detect(result, previous)
	result.LocationChanged = c.Changed
	result.PreviousSiteName = c.PreviousSiteName
	return result, c
}
