package utils

import (
	"strings"

	"github.com/google/uuid"
)

func GenerateRequestID() string {
	return uuid.NewString()
}

// GenerateControlID returns a 20 character id for MSH-10, the longest the
// HL7v2.5 field allows.
func GenerateControlID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]
}
