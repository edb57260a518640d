package artist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// ErrIdentityNotFound is returned when a local id does not exist.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrNoPlatformIDs is returned when a tracked artist carries no usable
// platform id.
var ErrNoPlatformIDs = errors.New("no platform ids")

// AmbiguousIdentityError is returned when two or more identities match a
// candidate equally well. The resolver never picks one of them.
type AmbiguousIdentityError struct {
	Candidate Candidate
	Matches   []Match
}

func (e *AmbiguousIdentityError) Error() string {
	ids := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		ids = append(ids, fmt.Sprintf("%s (%q, %.3f)", m.LocalID, m.DisplayName, m.Score))
	}
	return fmt.Sprintf("ambiguous identity for %s %q (%q): candidates %s",
		e.Candidate.Platform, e.Candidate.PlatformArtistID, e.Candidate.DisplayName, strings.Join(ids, ", "))
}

// ConflictingMappingError is returned when a platform id is already mapped
// to a different identity, or the identity already holds another id on the
// same platform. Only a manual override may change such a mapping.
type ConflictingMappingError struct {
	Platform         platform.Name
	PlatformArtistID string
	ExistingLocalID  string
	RequestedLocalID string
	// ExistingID is set when the requested identity already has a
	// different id on the platform.
	ExistingID string
}

func (e *ConflictingMappingError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("identity %s already maps %s to %q; refusing to add %q without override",
			e.RequestedLocalID, e.Platform, e.ExistingID, e.PlatformArtistID)
	}
	return fmt.Sprintf("%s %q is mapped to %s, not %s; reassignment requires override",
		e.Platform, e.PlatformArtistID, e.ExistingLocalID, e.RequestedLocalID)
}
