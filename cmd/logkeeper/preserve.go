package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/logkeeper/logkeeper/internal/preserve"
	"github.com/logkeeper/logkeeper/internal/segment"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPreserveCmd() *cobra.Command {
	preserveCmd := &cobra.Command{
		Use:   "preserve",
		Short: "Flag segments to keep",
		Long: `Set, clear and list the preserve flag on recorded segments.

The flag is the user.preserve extended attribute. The newest flagged segments,
and the segment recorded just before each of them, are never evicted.

Examples:
  logkeeper preserve set 2024-05-01--09-30-00--12
  logkeeper preserve clear 2024-05-01--09-30-00--12
  logkeeper preserve list`,
	}

	setCmd := &cobra.Command{
		Use:   "set <segment>...",
		Short: "Flag segments for preservation",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPreserveSet,
	}
	preserveCmd.AddCommand(setCmd)

	clearCmd := &cobra.Command{
		Use:   "clear <segment>...",
		Short: "Remove the preservation flag",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPreserveClear,
	}
	preserveCmd.AddCommand(clearCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List flagged and protected segments",
		RunE:  runPreserveList,
	}
	preserveCmd.AddCommand(listCmd)

	return preserveCmd
}

func preserveStore() (*preserve.XattrStore, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	return preserve.NewXattrStore(cfg.Paths.InternalRoot), nil
}

// checkSegment rejects names that are not directories directly under root.
func checkSegment(root, name string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%q is not a segment name", name)
	}
	info, err := os.Stat(filepath.Join(root, name))
	if err != nil {
		return fmt.Errorf("segment %s: %w", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("segment %s is not a directory", name)
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runPreserveSet(cmd *cobra.Command, args []string) error {
	setupLogging()

	store, err := preserveStore()
	if err != nil {
		return err
	}
	for _, name := range args {
		if err := checkSegment(store.Root, name); err != nil {
			return err
		}
		if _, err := segment.Parse(name); err != nil {
			log.Warn().Str("segment", name).Msg("name is not route--number, flag will not protect it")
		}
		if err := store.Set(name); err != nil {
			return fmt.Errorf("flag %s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Flagged %s\n", name)
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runPreserveClear(cmd *cobra.Command, args []string) error {
	setupLogging()

	store, err := preserveStore()
	if err != nil {
		return err
	}
	for _, name := range args {
		if err := checkSegment(store.Root, name); err != nil {
			return err
		}
		if err := store.Clear(name); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", name)
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runPreserveList(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	store := preserve.NewXattrStore(cfg.Paths.InternalRoot)
	dirs, err := segment.ListByCreation(cfg.Paths.InternalRoot)
	if err != nil {
		return err
	}

	keep := preserve.Resolve(dirs, store.IsPreserved, cfg.PreserveBudget())
	w := cmd.OutOrStdout()
	for _, d := range dirs {
		switch {
		case store.IsPreserved(d) && keep.Has(d):
			fmt.Fprintf(w, "%s\tflagged\n", d)
		case store.IsPreserved(d):
			if _, err := segment.Parse(d); err != nil {
				fmt.Fprintf(w, "%s\tflagged (not a segment name)\n", d)
			} else {
				fmt.Fprintf(w, "%s\tflagged (over budget)\n", d)
			}
		case keep.Has(d):
			fmt.Fprintf(w, "%s\tprotected\n", d)
		}
	}
	return nil
}
