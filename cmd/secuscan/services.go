package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/secuscan/internal/service"
)

func newServicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage the auxiliary analysis containers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up [service...]",
			Short: "Pull, start and wait for services to become ready",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.eachService(cmd, args, func(m *service.Manager) error {
					return m.Prepare(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "down [service...]",
			Short: "Remove service containers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.eachService(cmd, args, func(m *service.Manager) error {
					return m.Teardown(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "status [service...]",
			Short: "Show the lifecycle phase of each service",
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, closeRT := a.runtime()
				defer closeRT()
				mgrs, err := selectManagers(a.managers(rt), args)
				if err != nil {
					return err
				}
				return printPhases(cmd, cmd.OutOrStdout(), mgrs)
			},
		},
	)
	return cmd
}

func (a *app) eachService(cmd *cobra.Command, names []string, fn func(*service.Manager) error) error {
	rt, closeRT := a.runtime()
	defer closeRT()
	mgrs, err := selectManagers(a.managers(rt), names)
	if err != nil {
		return err
	}
	var failed int
	for _, m := range mgrs {
		if err := fn(m); err != nil {
			a.log.Error().Err(err).Str("service", m.Name()).Msg("service command failed")
			failed++
			continue
		}
		a.log.Info().Str("service", m.Name()).Msg("done")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d services failed", failed, len(mgrs))
	}
	return nil
}

// selectManagers returns the named managers sorted by name, or all of them when names is empty.
func selectManagers(all map[string]*service.Manager, names []string) ([]*service.Manager, error) {
	if len(names) == 0 {
		for n := range all {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	out := make([]*service.Manager, 0, len(names))
	for _, n := range names {
		m, ok := all[n]
		if !ok {
			return nil, fmt.Errorf("unknown service %q", n)
		}
		out = append(out, m)
	}
	return out, nil
}

func printPhases(cmd *cobra.Command, w io.Writer, mgrs []*service.Manager) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tCONTAINER\tIMAGE\tPHASE")
	for _, m := range mgrs {
		d := m.Descriptor()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.ContainerName, d.Image, m.Phase(cmd.Context()))
	}
	return tw.Flush()
}
