package api

import (
	"fmt"
	"regexp"
)

var sessionIDPattern = regexp.MustCompile(`^sess_[0-9a-f]{8}$`)

// ValidateSessionID checks the session id format before any lookup.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %s", id)
	}
	return nil
}

// validateCreateSessionRequest validates session creation parameters
func validateCreateSessionRequest(req createSessionRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Name) > 128 {
		return fmt.Errorf("name must not exceed 128 characters")
	}
	if len(req.Config) > 64 {
		return fmt.Errorf("config must not exceed 64 entries")
	}
	return nil
}
