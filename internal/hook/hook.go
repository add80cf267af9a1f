// Package hook delegates browser work to an operator-supplied executable.
//
//	<bin> fetch <profile_url>   prints the profile as JSON on stdout
//	<bin> send <profile_url>    reads the message on stdin; exit 0 means sent
//
// Anything the executable writes to stderr becomes the error text of a
// failed call.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/pipeline/internal/artifacts"
	"outreach/pipeline/internal/pipeline"
	"outreach/pipeline/internal/records"
)

// Command runs the hook executable once per record.
type Command struct {
	Path    string
	Args    []string // prepended before the subcommand
	Timeout time.Duration
	Env     []string // extra KEY=VALUE pairs
	Logger  *zap.Logger
}

func New(path string, timeout time.Duration, logger *zap.Logger) (*Command, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("no hook command configured (hook.command)")
	}
	fields := strings.Fields(path)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{Path: fields[0], Args: fields[1:], Timeout: timeout, Logger: logger.Named("hook")}, nil
}

func (c *Command) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	full := append(append([]string{}, c.Args...), args...)
	cmd := exec.CommandContext(ctx, c.Path, full...)
	cmd.WaitDelay = 2 * time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	start := time.Now()
	out, err := cmd.Output()
	if c.Logger != nil {
		c.Logger.Debug("hook finished",
			zap.Strings("args", args),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("hook %s: %w", args[0], ctx.Err())
	}
	if err != nil {
		stderr := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		if stderr != "" {
			return nil, fmt.Errorf("hook %s: %s", args[0], stderr)
		}
		return nil, fmt.Errorf("hook %s: %w", args[0], err)
	}
	return out, nil
}

// Fetch implements pipeline.Fetcher.
func (c *Command) Fetch(ctx context.Context, rec records.ProfileRecord) (*artifacts.Profile, error) {
	out, err := c.run(ctx, nil, "fetch", rec.ProfileURL)
	if err != nil {
		return nil, err
	}
	var p artifacts.Profile
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("parsing hook fetch output: %w (raw: %s)", err, truncate(out, 200))
	}
	return &p, nil
}

// Send implements pipeline.Sender.
func (c *Command) Send(ctx context.Context, cand pipeline.Candidate, message string) error {
	_, err := c.run(ctx, []byte(message), "send", cand.Record.ProfileURL)
	return err
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
