package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reminderd",
		Short:         "Session reminder daemon",
		Long:          "reminderd mails conductors and attendees before their sessions start and asks for feedback after they end. Each reminder goes out at most once.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCheckConfigCmd(),
		newStatsCmd(),
		newTriggerCmd(),
		newCheckNowCmd(),
		newAuditCmd(),
		newTestEmailCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}
