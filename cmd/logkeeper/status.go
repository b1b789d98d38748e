package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/logkeeper/logkeeper/internal/capacity"
	"github.com/logkeeper/logkeeper/internal/config"
	"github.com/logkeeper/logkeeper/internal/eviction"
	"github.com/logkeeper/logkeeper/internal/mounttable"
	"github.com/logkeeper/logkeeper/internal/preserve"
	"github.com/logkeeper/logkeeper/internal/segment"
	"github.com/logkeeper/logkeeper/internal/volume"
	"github.com/logkeeper/logkeeper/pkg/bytesize"
	"github.com/spf13/cobra"
)

// statusReport is what `logkeeper status` prints.
type statusReport struct {
	InternalRoot string
	Internal     capacity.Result
	InternalLow  bool

	ExternalEnabled bool
	ExternalRoot    string
	ExternalLive    bool
	External        capacity.Result
	ExternalLow     bool
	Devices         []volume.Candidate
	DetectErr       error

	Segments  int
	Flagged   []string
	Protected []string
}

// nolint:revive // args required by cobra.Command RunE signature
func runStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := buildStatus(cfg, capacity.System, preserve.NewXattrStore(cfg.Paths.InternalRoot), mounttable.IsLive)
	if cfg.ExternalEnabled() && !r.ExternalLive {
		r.Devices, r.DetectErr = volume.Detect(ctx, volume.SystemOps(), cfg.External.MountPoint)
	}
	printStatus(cmd.OutOrStdout(), r)
	return nil
}

func buildStatus(cfg *config.Config, probe capacity.Prober, flags eviction.FlagReader, live func(mountPoint, root string) bool) statusReport {
	opts := eviction.OptionsFromConfig(cfg)
	r := statusReport{
		InternalRoot:    opts.InternalRoot,
		ExternalEnabled: opts.ExternalEnabled,
		ExternalRoot:    opts.ExternalRoot,
	}

	r.Internal = probe.Probe(opts.InternalRoot)
	r.InternalLow = opts.Thresholds.OutOfSpace(r.Internal)

	if opts.ExternalEnabled && live(opts.MountPoint, opts.ExternalRoot) {
		r.ExternalLive = true
		r.External = probe.Probe(opts.ExternalRoot)
		r.ExternalLow = opts.Thresholds.OutOfSpace(r.External)
	}

	dirs, err := segment.ListByCreation(opts.InternalRoot)
	if err == nil {
		r.Segments = len(dirs)
		for _, d := range dirs {
			if flags.IsPreserved(d) {
				r.Flagged = append(r.Flagged, d)
			}
		}
		for name := range preserve.Resolve(dirs, flags.IsPreserved, opts.PreserveBudget) {
			r.Protected = append(r.Protected, name)
		}
		sort.Strings(r.Protected)
	}
	return r
}

func printStatus(w io.Writer, r statusReport) {
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	p("Internal:  %s\n", r.InternalRoot)
	p("  Free:    %s\n", describe(r.Internal))
	p("  Status:  %s\n", lowString(r.InternalLow))

	p("External:  %s\n", r.ExternalRoot)
	switch {
	case !r.ExternalEnabled:
		p("  Status:  disabled\n")
	case r.ExternalLive:
		p("  Free:    %s\n", describe(r.External))
		p("  Status:  mounted, %s\n", lowString(r.ExternalLow))
	default:
		p("  Status:  not mounted\n")
		if r.DetectErr != nil {
			p("  Devices: detection failed: %v\n", r.DetectErr)
		} else {
			for _, d := range r.Devices {
				p("  Device:  %s (%s %s)\n", d.Device, d.Tran, d.Model)
			}
			if len(r.Devices) > 1 {
				p("  Warning: more than one candidate device attached, none will be used\n")
			}
		}
	}

	p("Segments:  %d\n", r.Segments)
	p("Flagged:   %s\n", joinOrNone(r.Flagged))
	p("Protected: %s\n", joinOrNone(r.Protected))
}

func describe(r capacity.Result) string {
	if !r.Available {
		return fmt.Sprintf("unavailable (%v)", r.Err)
	}
	return fmt.Sprintf("%.1f%% (%s)", r.Ratio*100, bytesize.Format(r.Bytes))
}

func lowString(low bool) string {
	if low {
		return "low on space"
	}
	return "ok"
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
