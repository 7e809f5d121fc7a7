package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"apisim/internal/control"
)

type controlFlags struct {
	dir     string
	backend string
	json    bool
}

func (f *controlFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "control-dir", control.DefaultDirectory, "directory holding control records")
	cmd.Flags().StringVar(&f.backend, "backend", string(control.BackendFile), "control backend: file, sqlite")
}

func (f *controlFlags) open() (control.Store, error) {
	return control.Open(control.Backend(f.backend), f.dir)
}

// newControlCmds builds status, stop, pause and resume. Each attaches to a
// run started by another process through its control record.
func newControlCmds() []*cobra.Command {
	actions := []struct {
		use, short string
		do         func(*control.Controller, context.Context) error
	}{
		{"stop", "Request a running simulation to stop", (*control.Controller).RequestStop},
		{"pause", "Request a running simulation to pause", (*control.Controller).RequestPause},
		{"resume", "Resume a paused simulation", (*control.Controller).Resume},
	}

	cmds := []*cobra.Command{newStatusCmd()}
	for _, a := range actions {
		var flags controlFlags
		cmd := &cobra.Command{
			Use:   a.use + " <run-id>",
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := flags.open()
				if err != nil {
					return err
				}
				defer store.Close()
				if err := a.do(control.Attach(store, args[0]), cmd.Context()); err != nil {
					return fmt.Errorf("%s %s: %w", a.use, args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s requested for %s\n", a.use, args[0])
				return nil
			},
		}
		flags.register(cmd)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func newStatusCmd() *cobra.Command {
	var flags controlFlags
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the control record of a simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := control.Attach(store, args[0]).Current(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			writeRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the record as JSON")
	return cmd
}

func newListCmd() *cobra.Command {
	var flags controlFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List simulations with a control record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTATUS\tPROGRESS\tERRORS\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\n",
					r.RunID, r.State, r.Completed, r.Target, r.Errors, r.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.json, "json", false, "print records as JSON")
	return cmd
}

func writeRecord(w io.Writer, r control.Record) {
	fmt.Fprintf(w, "Run:       %s\n", r.RunID)
	fmt.Fprintf(w, "Status:    %s\n", r.State)
	fmt.Fprintf(w, "Progress:  %d/%d\n", r.Completed, r.Target)
	fmt.Fprintf(w, "Errors:    %d\n", r.Errors)
	fmt.Fprintf(w, "Created:   %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:   %s\n", r.UpdatedAt.Format(time.RFC3339))
	if r.PauseRequested {
		fmt.Fprintln(w, "Pause:     requested")
	}
	if r.StopRequested {
		fmt.Fprintln(w, "Stop:      requested")
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.Error)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
