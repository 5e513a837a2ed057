package block

import (
	"strings"

	"github.com/google/uuid"
)

// idSuffixLen is the length of the random part of a generated component id.
const idSuffixLen = 7

// NewID returns a component id of the form {componentName}-{random}.
func NewID(componentName string) string {
	if componentName == "" {
		componentName = "block"
	}
	return componentName + "-" + randomSuffix()
}

func randomSuffix() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s[:idSuffixLen]
}

// slotID derives a slot's id from its owner and name.
func slotID(parentID, slotName string) string {
	return parentID + ":" + slotName
}
