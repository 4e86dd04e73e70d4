// Command rosterctl lists activities and manages participants through the sign-up API.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/signup/internal/client"
	"example.com/signup/internal/domain"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.server, o.timeout)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "rosterctl",
		Short:        "Manage extracurricular activity rosters",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("ROSTER_SERVER", "http://localhost:8080"), "sign-up service base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(newListCmd(opts), newShowCmd(opts), newSignupCmd(opts), newRemoveCmd(opts))
	return root
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List activities with their participants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			activities, err := opts.client().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range activities {
				printActivity(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <activity>",
		Short: "Show one activity and its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			activity, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printActivity(cmd.OutOrStdout(), activity)
			return nil
		},
	}
}

func printActivity(w io.Writer, a domain.Activity) {
	fmt.Fprintf(w, "%s (%s)\n", a.Name, a.Schedule)
	fmt.Fprintf(w, "  %s\n", a.Description)
	fmt.Fprintf(w, "  %d spots left\n", a.SpotsLeft())
	if len(a.Participants) == 0 {
		fmt.Fprintln(w, "  no participants yet")
		return
	}
	fmt.Fprintf(w, "  participants: %s\n", strings.Join(a.Participants, ", "))
}

func newSignupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "signup <activity> <email>",
		Short: "Sign a participant up for an activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := opts.client().Signup(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <activity> <email>",
		Short: "Remove a participant from an activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := opts.client().Remove(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

