package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"ops-realtime/internal/auth"
	"ops-realtime/internal/models"
	"ops-realtime/internal/notifications"
)

func apiClient(cmd *cobra.Command) (*notifications.APIClient, error) {
	provider, err := auth.NewProvider(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	return notifications.NewAPIClient(cfg.APIBaseURL, provider, nil), nil
}

func runNotificationsList(cmd *cobra.Command, args []string) error {
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	center := notifications.NewCenter(client)
	if err := center.Load(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, center.Items())
	}
	writeNotifications(out, center.Items())
	fmt.Fprintf(out, "%d unread\n", center.UnreadCount())
	return nil
}

func runNotificationsRead(cmd *cobra.Command, args []string) error {
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	n, err := client.MarkRead(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), n)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s marked %s\n", n.ID, n.Status)
	return nil
}

func runNotificationsReadAll(cmd *cobra.Command, args []string) error {
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	updated, err := client.MarkAllRead(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d marked read\n", updated)
	return nil
}

func runNotificationsDelete(cmd *cobra.Command, args []string) error {
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	if err := client.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
	return nil
}

func runNotificationsCreate(cmd *cobra.Command, args []string) error {
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	n, err := client.Create(cmd.Context(), createUserID, notifications.CreateInput{
		Title:     createTitle,
		Message:   createMessage,
		Type:      models.NotificationType(createType),
		Priority:  models.Priority(createPriority),
		ActionURL: createActionURL,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), n)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", n.ID)
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	payload := json.RawMessage(args[1])
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON: %s", args[1])
	}
	client, err := apiClient(cmd)
	if err != nil {
		return err
	}
	if err := client.PublishUpdate(cmd.Context(), args[0], payload); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", args[0])
	return nil
}

func writeNotifications(w io.Writer, items []models.Notification) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tTYPE\tCREATED\tTITLE")
	for _, n := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Status, n.Priority, n.Type, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
