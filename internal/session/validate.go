package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/wppsync/internal/validate"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w: session name %q must match ^[a-z0-9_-]{1,64}$", validate.ErrInvalidArgument, name)
	}
	return nil
}
