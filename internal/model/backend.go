package model

import (
	"fmt"
	"strings"
)

// BackendKind selects which summarization backend serves a run.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// ParseBackendKind maps user input onto a BackendKind. The legacy
// mode names ("transformer", "openai") are accepted as aliases.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "local-model", "transformer":
		return BackendLocal, nil
	case "remote", "remote-api", "api", "openai", "anthropic":
		return BackendRemote, nil
	default:
		return "", fmt.Errorf(
			"unknown summarizer backend %q (want local or remote)", s,
		)
	}
}
