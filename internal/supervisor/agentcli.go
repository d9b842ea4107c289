package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const disableExternalAgentCLIEnv = "CREWD_DISABLE_AGENT_CLI"

const claudeHooklessSettingsJSON = `{"hooks":{}}`

// maxAgentPromptBytes bounds a prime prompt handed to an agent CLI. An
// empty prompt is fine here (unlike validatePrompt's use for an
// extraction call) — a bare agent token with no prompt is how an
// interactive sidecar that reads its priming from stdin gets started.
const maxAgentPromptBytes = 16000

// validateAgentPrompt checks a definition's prompt portion before it
// reaches a CLI's argv, the same defense-in-depth the prompt gets
// before any LLM CLI invocation: bounded length, no null bytes.
func validateAgentPrompt(s string) error {
	if len(s) > maxAgentPromptBytes {
		return fmt.Errorf("agent prompt exceeds %d byte limit (%d bytes)", maxAgentPromptBytes, len(s))
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("agent prompt contains null byte")
	}
	return nil
}

// agentRunner resolves a bare agent-type token (as opposed to an
// arbitrary shell command) into the concrete CLI binary and argv that
// starts it. "claude" runs `claude -p`, "opencode" runs `opencode run`.
type agentRunner struct {
	command string
	args    func(prompt string) []string
}

// resolveAgentRunner maps an agent-type token to its runner, or reports
// ok=false if definition doesn't name one of the recognized bare tokens
// — in which case Spawn falls back to treating Definition as a literal
// shell command.
func resolveAgentRunner(definition string) (agentRunner, bool) {
	name := strings.ToLower(strings.TrimSpace(definition))
	switch {
	case name == "opencode" || strings.HasPrefix(name, "opencode:"):
		return agentRunner{
			command: "opencode",
			args:    func(p string) []string { return []string{"run", p} },
		}, true
	case name == "claude" || strings.HasPrefix(name, "claude:"):
		return agentRunner{
			command: "claude",
			args: func(p string) []string {
				return []string{"-p", p, "--output-format", "text", "--settings", claudeHooklessSettingsJSON}
			},
		}, true
	default:
		return agentRunner{}, false
	}
}

// agentRunnerPrompt extracts the prompt portion of a "claude:<prompt>"
// or "opencode:<prompt>" definition; a bare token with no prompt starts
// the CLI with an empty one (interactive sidecars read stdin instead).
func agentRunnerPrompt(definition string) string {
	_, prompt, ok := strings.Cut(definition, ":")
	if !ok {
		return ""
	}
	return prompt
}

// buildAgentCmd resolves definition into an *exec.Cmd. If definition
// names a recognized agent-CLI token, the binary is looked up on PATH
// and invoked directly with its tool-specific argv (no shell involved);
// otherwise definition is run as a literal shell command with sh -c, the
// same way internal/effects runs a step's shell command.
func buildAgentCmd(definition string) (*exec.Cmd, error) {
	runner, ok := resolveAgentRunner(definition)
	if !ok {
		if strings.TrimSpace(definition) == "" {
			return nil, errors.New("agent definition is empty")
		}
		if err := validateAgentPrompt(definition); err != nil {
			return nil, fmt.Errorf("invalid agent command: %w", err)
		}
		return exec.Command("sh", "-c", definition), nil
	}
	prompt := agentRunnerPrompt(definition)
	if err := validateAgentPrompt(prompt); err != nil {
		return nil, fmt.Errorf("invalid agent prompt: %w", err)
	}
	if strings.TrimSpace(os.Getenv(disableExternalAgentCLIEnv)) != "" {
		return nil, fmt.Errorf("agent CLI execution disabled by %s", disableExternalAgentCLIEnv)
	}
	if _, err := exec.LookPath(runner.command); err != nil {
		return nil, fmt.Errorf("agent CLI %q not found in PATH: %w", runner.command, err)
	}
	return exec.Command(runner.command, runner.args(prompt)...), nil
}
