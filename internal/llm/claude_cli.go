package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ClaudeCLI runs `claude -p` as a one-shot subprocess. It has no system
// prompt channel, so Options.System is sent ahead of the prompt.
type ClaudeCLI struct {
	bin    string
	model  string
	system string
}

// NewClaudeCLI creates a client for the claude binary on PATH.
func NewClaudeCLI(model string, opts Options) *ClaudeCLI {
	return &ClaudeCLI{bin: "claude", model: model, system: opts.System}
}

// Complete pipes the prompt to the CLI and returns its stdout. The process is
// killed when ctx is done.
func (c *ClaudeCLI) Complete(ctx context.Context, prompt string) (*Response, error) {
	input := prompt
	if c.system != "" {
		input = c.system + "\n\n" + prompt
	}

	cmd := exec.CommandContext(ctx, c.bin, "-p", "--model", c.model, "--max-turns", "1")
	cmd.Stdin = strings.NewReader(input)
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("claude cli: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, fmt.Errorf("claude cli: empty output")
	}
	return &Response{Content: out, Provider: "claude-cli"}, nil
}

// filterEnv drops CLAUDE_* variables so the child does not inherit the
// parent's session.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "CLAUDE_") {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
