package llm

import (
	"fmt"

	"github.com/bureaulab/bureau/pkg/models"
)

// Invocation describes how to launch a provider CLI for one run. The prompt
// itself travels over stdin and the side-channel prompt file, never argv.
type Invocation struct {
	// Command is the CLI binary name.
	Command string
	// Args are the command-line arguments.
	Args []string
}

// BuildCLIInvocation returns the command line for a CLI provider run.
// sessionID, when non-empty, asks the CLI to resume a prior conversation.
func BuildCLIInvocation(provider models.Provider, model, sessionID string) (*Invocation, error) {
	switch provider {
	case models.ProviderClaudeCLI:
		args := []string{"-p", "--verbose", "--output-format", "stream-json", "--dangerously-skip-permissions"}
		if model != "" {
			args = append(args, "--model", model)
		}
		if sessionID != "" {
			args = append(args, "--resume", sessionID)
		}
		return &Invocation{Command: "claude", Args: args}, nil

	case models.ProviderCodexCLI:
		args := []string{"exec", "--json", "--skip-git-repo-check"}
		if model != "" {
			args = append(args, "--model", model)
		}
		if sessionID != "" {
			args = append(args, "resume", sessionID)
		}
		return &Invocation{Command: "codex", Args: args}, nil

	case models.ProviderGeminiCLI:
		args := []string{"--yolo"}
		if model != "" {
			args = append(args, "--model", model)
		}
		// The gemini CLI has no session resume; prior context travels in
		// the continuation brief prepended to the prompt.
		return &Invocation{Command: "gemini", Args: args}, nil

	default:
		return nil, fmt.Errorf("provider %q is not a CLI family", provider)
	}
}
