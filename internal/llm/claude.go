package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClaudeCLI runs a one-shot `claude -p` subprocess per completion.
type ClaudeCLI struct {
	Binary  string
	Model   string
	Timeout time.Duration
	logger  *zap.Logger
}

func NewClaudeCLI(cfg Config, logger *zap.Logger) *ClaudeCLI {
	bin := cfg.Binary
	if bin == "" {
		bin = "claude"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &ClaudeCLI{Binary: bin, Model: cfg.Model, Timeout: timeout, logger: logger.Named("llm")}
}

// cliResult is the final object printed by --output-format json.
type cliResult struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	NumTurns  int     `json:"num_turns"`
}

func (c *ClaudeCLI) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--max-turns", "1",
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = filterClaudeEnv(os.Environ())
	cmd.WaitDelay = 3 * time.Second

	var stdout bytes.Buffer
	stderr := cappedBuffer{limit: 10 * 1024}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil {
		return "", fmt.Errorf("claude: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("claude exited with code %d: %s", exitErr.ExitCode(),
				strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("starting claude: %w", err)
	}

	res, err := parseCLIResult(stdout.Bytes())
	if err != nil {
		return "", err
	}
	c.logger.Debug("claude completed",
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int("num_turns", res.NumTurns),
		zap.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(res.Result), nil
}

// parseCLIResult accepts either a single JSON object or stream-json lines,
// returning the last "result" object.
func parseCLIResult(out []byte) (*cliResult, error) {
	var res *cliResult
	for _, line := range bytes.Split(bytes.TrimSpace(out), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r cliResult
		if json.Unmarshal(line, &r) != nil {
			continue
		}
		if r.Type == "result" {
			res = &r
		}
	}
	if res == nil {
		return nil, fmt.Errorf("no result in claude output")
	}
	if res.IsError {
		return nil, fmt.Errorf("claude reported an error (%s): %s", res.Subtype, res.Result)
	}
	if strings.TrimSpace(res.Result) == "" {
		return nil, ErrEmptyResponse
	}
	return res, nil
}

// filterClaudeEnv removes CLAUDE_CODE_* and CLAUDECODE env vars so the
// subprocess does not detect a parent session.
func filterClaudeEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		if strings.HasPrefix(key, "CLAUDE_CODE_") || key == "CLAUDECODE" {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
