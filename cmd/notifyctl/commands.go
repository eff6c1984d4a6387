package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"ops-realtime/internal/config"
)

var (
	cfg *config.Config

	listenChannels []string
	jsonOutput     bool

	createTitle     string
	createMessage   string
	createType      string
	createPriority  string
	createActionURL string
	createUserID    string

	rootCmd = &cobra.Command{
		Use:          "notifyctl",
		Short:        "Talk to the ops realtime and notifications services",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			slog.SetDefault(cfg.NewLogger())
		},
	}

	listenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Stream realtime messages for the configured identity",
		Args:  cobra.NoArgs,
		RunE:  runListen,
	}

	notificationsCmd = &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "Manage the configured user's notifications",
	}
	notificationsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE:  runNotificationsList,
	}
	notificationsReadCmd = &cobra.Command{
		Use:   "read ID",
		Short: "Mark one notification read",
		Args:  cobra.ExactArgs(1),
		RunE:  runNotificationsRead,
	}
	notificationsReadAllCmd = &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		Args:  cobra.NoArgs,
		RunE:  runNotificationsReadAll,
	}
	notificationsDeleteCmd = &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE:  runNotificationsDelete,
	}
	notificationsCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a notification",
		Args:  cobra.NoArgs,
		RunE:  runNotificationsCreate,
	}

	publishCmd = &cobra.Command{
		Use:   "publish CHANNEL JSON",
		Short: "Publish a JSON payload to a tenant channel",
		Args:  cobra.ExactArgs(2),
		RunE:  runPublish,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	listenCmd.Flags().StringSliceVarP(&listenChannels, "channel", "c", nil, "channel to subscribe to (repeatable)")

	notificationsCreateCmd.Flags().StringVar(&createTitle, "title", "", "notification title")
	notificationsCreateCmd.Flags().StringVar(&createMessage, "message", "", "notification body")
	notificationsCreateCmd.Flags().StringVar(&createType, "type", "", "info, success, warning or error")
	notificationsCreateCmd.Flags().StringVar(&createPriority, "priority", "", "low, medium, high or urgent")
	notificationsCreateCmd.Flags().StringVar(&createActionURL, "action-url", "", "link opened from the notification")
	notificationsCreateCmd.Flags().StringVar(&createUserID, "user", "", "recipient in the same tenant (default: yourself)")
	notificationsCreateCmd.MarkFlagRequired("title")

	notificationsCmd.AddCommand(
		notificationsListCmd,
		notificationsReadCmd,
		notificationsReadAllCmd,
		notificationsDeleteCmd,
		notificationsCreateCmd,
	)
	rootCmd.AddCommand(listenCmd, notificationsCmd, publishCmd)
}
