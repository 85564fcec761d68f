// Package identity derives the owner token used for lock ownership checks.
package identity

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// EnvInstanceID overrides the derived instance id when set. The host runtime
// exports it once per instance so every hook process it spawns agrees on the
// same owner token.
const EnvInstanceID = "STAGEHAND_INSTANCE_ID"

// InstanceID returns the owner token for this hook invocation. Precedence:
// the environment override, then a deterministic derivation from session id
// and hostname (so re-derivation across hook invocations in the same session
// still matches), then a random id as the last resort.
func InstanceID(sessionID string) string {
	if v := strings.TrimSpace(os.Getenv(EnvInstanceID)); v != "" {
		return v
	}

	if sessionID == "" {
		// Nothing stable to derive from; this id only matches within the
		// current process.
		return "inst-" + uuid.NewString()[:8]
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"@"+host))
	return "inst-" + derived.String()[:8]
}
