// Package diff decides whether two observations of the same profile
// constitute a job change.
//
// Evaluate is a pure function over the new snapshot and the prior stored
// one. A field counts as changed only when it is present on both sides and
// differs; a field appearing or disappearing is an extraction artifact, not
// a job change, and must never fire an event.
package diff

import "github.com/hazyhaar/vigie/profwatch/internal/profile"

// Kind classifies an evaluation outcome.
type Kind int

const (
	// NewIdentity is the first successful observation of an identity.
	NewIdentity Kind = iota
	// NoChange covers identical observations and asymmetric presence.
	NoChange
	// Changed means position or company (or both) moved between two
	// present values.
	Changed
)

func (k Kind) String() string {
	switch k {
	case NewIdentity:
		return "new_identity"
	case NoChange:
		return "no_change"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// Change carries the before/after context of a detected job change. All four
// old/new fields are populated even when only one of position or company
// triggered the detection.
type Change struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	OldPosition string `json:"old_position"`
	NewPosition string `json:"new_position"`
	OldCompany  string `json:"old_company"`
	NewCompany  string `json:"new_company"`
	DetectedAt  int64  `json:"detected_at"` // ms since epoch
}

// Outcome is the result of one evaluation. Change is non-nil only when Kind
// is Changed.
type Outcome struct {
	Kind   Kind
	Change *Change
}

// Evaluate compares a fresh snapshot against the prior stored one. A nil
// prior means the identity has never been successfully observed. In every
// case the caller overwrites the stored profile with snap afterwards;
// Evaluate only decides what the overwrite means.
func Evaluate(snap *profile.Snapshot, prior *profile.Snapshot) Outcome {
	if prior == nil {
		return Outcome{Kind: NewIdentity}
	}

	positionChanged := moved(prior.CurrentPosition, snap.CurrentPosition)
	companyChanged := moved(prior.CurrentCompany, snap.CurrentCompany)
	if !positionChanged && !companyChanged {
		return Outcome{Kind: NoChange}
	}

	return Outcome{
		Kind: Changed,
		Change: &Change{
			Identity:    snap.Identity,
			DisplayName: snap.DisplayName,
			OldPosition: prior.CurrentPosition,
			NewPosition: snap.CurrentPosition,
			OldCompany:  prior.CurrentCompany,
			NewCompany:  snap.CurrentCompany,
			DetectedAt:  snap.CapturedAt,
		},
	}
}

// moved reports a transition between two present, differing values.
func moved(old, new string) bool {
	return old != "" && new != "" && old != new
}
