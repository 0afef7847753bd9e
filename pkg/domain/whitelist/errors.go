package whitelist

import (
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

var (
	// ErrRuleNotFound is returned when a whitelist rule is not found.
	ErrRuleNotFound = fmt.Errorf("%w: whitelist rule not found", shared.ErrNotFound)
)
