package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	LogFile     string
	Follow      bool
	Lines       int
}

// ViewLogs shows service logs from the journal, or from the daemon's own log
// file when there is no journal.
func ViewLogs(opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	if opts.LogFile == "" {
		opts.LogFile = DefaultLogPath
	}

	cmd := logsCommand(opts, journalAvailable())
	if cmd == nil {
		return fmt.Errorf("no log source found for %q (expected journal or %s)", opts.ServiceName, opts.LogFile)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

func journalAvailable() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	_, err := exec.LookPath("journalctl")
	return err == nil
}

// logsCommand builds the command that prints the logs.
func logsCommand(opts LogOptions, journal bool) *exec.Cmd {
	if journal {
		args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
		if opts.Follow {
			args = append(args, "-f")
		}
		return exec.Command("journalctl", args...)
	}

	if !fileExists(opts.LogFile) {
		return nil
	}
	args := []string{"-n", strconv.Itoa(opts.Lines)}
	if opts.Follow {
		args = append(args, "-f")
	}
	args = append(args, opts.LogFile)
	return exec.Command("tail", args...)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
