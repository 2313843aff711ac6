package profwatch

import "fmt"

const (
	maxNameLen = 512
	maxURLLen  = 4096

	// MaxWatchedProfiles caps the roster. Checks run through one browser
	// session with multi-second politeness delays, so a larger roster
	// would not finish a daily pass anyway.
	MaxWatchedProfiles = 500
)

func validateProfileName(name string) error {
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLen)
	}
	return nil
}
