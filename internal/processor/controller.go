// Package processor controls the external transcription application. The
// app is a GUI program with no API; liveness is a process-table probe and
// recovery is a scripted quit/kill/reopen sequence.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Config holds controller configuration.
type Config struct {
	AppName    string
	QuitWait   time.Duration
	LaunchWait time.Duration
}

// Controller probes and restarts the external processor via OS automation.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// NewController creates a controller for the named application.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if cfg.QuitWait == 0 {
		cfg.QuitWait = 5 * time.Second
	}
	if cfg.LaunchWait == 0 {
		cfg.LaunchWait = 10 * time.Second
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Alive reports whether the processor is running and its PID if so.
func (c *Controller) Alive(ctx context.Context) (bool, int) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", c.cfg.AppName)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		// pgrep exits 1 for no matches; either way the process is not up.
		return false, 0
	}

	first := strings.TrimSpace(strings.SplitN(out.String(), "\n", 2)[0])
	pid, err := strconv.Atoi(first)
	if err != nil {
		return false, 0
	}
	return true, pid
}

// Restart performs a graceful quit, escalates to a force kill if the app
// lingers, reopens it and verifies it came back. Success or failure is also
// observable indirectly through subsequent health polls.
func (c *Controller) Restart(ctx context.Context) error {
	c.logger.Warn("restarting external processor",
		slog.String("app", c.cfg.AppName),
	)

	script := fmt.Sprintf("tell application %q to quit", c.cfg.AppName)
	if err := c.run(ctx, 10*time.Second, "osascript", "-e", script); err != nil {
		c.logger.Warn("graceful quit failed",
			slog.String("error", err.Error()),
		)
	}

	if err := sleepCtx(ctx, c.cfg.QuitWait); err != nil {
		return err
	}

	if alive, _ := c.Alive(ctx); alive {
		if err := c.run(ctx, 5*time.Second, "pkill", "-9", "-f", c.cfg.AppName); err != nil {
			c.logger.Warn("force kill failed",
				slog.String("error", err.Error()),
			)
		}
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return err
		}
	}

	if err := c.run(ctx, 10*time.Second, "open", "-a", c.cfg.AppName); err != nil {
		return fmt.Errorf("relaunch %s: %w", c.cfg.AppName, err)
	}

	if err := sleepCtx(ctx, c.cfg.LaunchWait); err != nil {
		return err
	}

	alive, pid := c.Alive(ctx)
	if !alive {
		return fmt.Errorf("%s did not come back after restart", c.cfg.AppName)
	}

	c.logger.Info("external processor restarted",
		slog.String("app", c.cfg.AppName),
		slog.Int("pid", pid),
	)
	return nil
}

func (c *Controller) run(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w, stderr: %s", name, err, stderr.String())
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
