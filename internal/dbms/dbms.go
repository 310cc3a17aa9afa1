// Package dbms implements the database engine adapters. Each engine
// pairs a live SQL probe (connectivity, version, permissions) with the
// vendor's own client tools for the data path: restores and dumps shell
// out to pg_restore/psql or mysql/mysqldump so the artifacts stay fully
// interchangeable with hand-run tooling.
package dbms

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"dbvault/internal/adapter"
	"dbvault/internal/logger"
)

// probeTimeout bounds every live SQL probe. Probes answer "can I reach
// this server"; a probe that needs longer than this already answered.
const probeTimeout = 10 * time.Second

const (
	// maxScanLine caps a single relayed output line. Engine tools echo
	// failing statements, which can be long.
	maxScanLine = 1024 * 1024

	// maxLoggedErrors caps error lines mirrored into our own log. The
	// full stream still reaches the caller through onLog.
	maxLoggedErrors = 10
)

// toolCmd describes one external engine tool invocation.
type toolCmd struct {
	name   string
	args   []string
	env    []string  // extra KEY=VALUE entries appended to os.Environ()
	stdin  io.Reader // optional: plain SQL restores pipe the script here
	stdout io.Writer // optional: dumps capture the tool's stdout here
}

// toolRunner executes engine tools and relays their output line by
// line. Output is streamed, never buffered whole: restores of large
// databases produce more output than we want in memory.
type toolRunner struct {
	log logger.Logger
}

// run starts the tool, relays stdout and stderr through onLog, and
// waits for it to finish. A non-zero exit is always an error; the
// returned error carries the tool's last error line so operators see
// what the engine itself reported.
func (r toolRunner) run(ctx context.Context, c toolCmd, onLog adapter.LogFunc) error {
	r.log.Debug("running engine tool", "tool", c.name, "args", strings.Join(c.args, " "))

	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Env = append(os.Environ(), c.env...)
	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}

	stdoutDone := make(chan struct{})
	if c.stdout != nil {
		cmd.Stdout = c.stdout
		close(stdoutDone)
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe for %s: %w", c.name, err)
		}
		go func() {
			defer close(stdoutDone)
			sc := bufio.NewScanner(stdout)
			sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
			for sc.Scan() {
				if onLog != nil {
					onLog(sc.Text())
				}
			}
		}()
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", c.name, err)
	}

	// lastError is owned by the stderr goroutine until stderrDone closes.
	var (
		lastError  string
		errorCount int
	)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
		for sc.Scan() {
			line := sc.Text()
			if onLog != nil {
				onLog(line)
			}
			if isErrorLine(line) {
				lastError = strings.TrimSpace(line)
				errorCount++
				if errorCount <= maxLoggedErrors {
					r.log.Warn("engine tool stderr", "tool", c.name, "output", line)
				}
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}

	// Drain both relays before Wait; Wait closes the pipes and would
	// race the scanners out of the tool's final lines.
	<-stdoutDone
	<-stderrDone

	cmdErr := cmd.Wait()
	if cmdErr != nil {
		// CommandContext kills the process on cancellation; report the
		// cancellation rather than the resulting signal exit.
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.log.Warn("engine tool interrupted", "tool", c.name)
			return fmt.Errorf("%s interrupted: %w", c.name, ctxErr)
		}

		exitCode := 1
		var exitErr *exec.ExitError
		if stderrors.As(cmdErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		r.log.Error("engine tool failed",
			"tool", c.name, "exit_code", exitCode,
			"error_count", errorCount, "last_error", lastError)

		if lastError != "" {
			return fmt.Errorf("%s exited with code %d: %s", c.name, exitCode, lastError)
		}
		return fmt.Errorf("%s failed: %w", c.name, cmdErr)
	}

	r.log.Debug("engine tool completed", "tool", c.name)
	return nil
}

// isErrorLine reports whether an engine output line is an error.
// Matches the markers of both engine families: "ERROR:"/"FATAL:" from
// the PostgreSQL server, "pg_restore: error:"/"psql: error:" from the
// client tools, and "ERROR 1045 (28000):" style lines from mysql.
func isErrorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "ERROR") ||
		strings.Contains(line, "FATAL:") ||
		strings.Contains(line, "error:")
}
