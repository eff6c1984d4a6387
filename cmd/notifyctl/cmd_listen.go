package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"ops-realtime/internal/auth"
	"ops-realtime/internal/models"
	"ops-realtime/internal/notifications"
	"ops-realtime/internal/realtime"
)

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := auth.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}
	id, err := provider.Identity(ctx)
	if err != nil {
		return err
	}

	// OIDC tokens expire, so each reconnect asks the provider again.
	client := realtime.New(realtime.Config{
		Host:     cfg.RealtimeHost,
		Port:     cfg.RealtimePort,
		Path:     cfg.RealtimePath,
		Secure:   cfg.RealtimeSecure,
		UserID:   id.UserID,
		TenantID: id.TenantID,
	}, realtime.WithTokenSource(func(ctx context.Context) (string, error) {
		id, err := provider.Identity(ctx)
		if err != nil {
			return "", err
		}
		return id.Token, nil
	}))
	defer client.Close()

	center := notifications.NewCenter(notifications.NewAPIClient(cfg.APIBaseURL, provider, nil))
	if err := center.Load(ctx); err != nil {
		slog.Warn("[CLI] Failed to load notifications, counting from zero", "error", err)
	}

	return listen(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), client, center, listenChannels)
}

// listen prints every message client receives until ctx is done. Pushed
// notifications are applied to center before printing, followed by the
// unread count.
func listen(ctx context.Context, out, errOut io.Writer, client *realtime.Client, center *notifications.Center, channels []string) error {
	detach := center.Attach(client)
	defer detach()

	client.OnStateChange(func(s realtime.State) {
		fmt.Fprintf(errOut, "state: %s\n", s)
		if s == realtime.Connected && len(channels) > 0 {
			client.Subscribe(channels...)
		}
	})
	client.OnMessage(func(env models.Envelope) {
		printEnvelope(out, env)
		if env.Type == models.TypeNotification && !jsonOutput {
			fmt.Fprintf(out, "%d unread\n", center.UnreadCount())
		}
	})

	client.Connect()
	if client.State() == realtime.Disconnected {
		return fmt.Errorf("cannot connect: %s", client.Err())
	}

	<-ctx.Done()
	return nil
}

func printEnvelope(w io.Writer, env models.Envelope) {
	if jsonOutput {
		raw, _ := json.Marshal(env)
		fmt.Fprintln(w, string(raw))
		return
	}

	switch env.Type {
	case models.TypeNotification:
		var n models.Notification
		if err := json.Unmarshal(env.Data, &n); err == nil {
			fmt.Fprintf(w, "[%s] %s %s: %s\n", n.Priority, n.Type, n.Title, n.Message)
			return
		}
	case models.TypeUpdate:
		var u models.ChannelUpdate
		if err := json.Unmarshal(env.Data, &u); err == nil {
			fmt.Fprintf(w, "#%s %s\n", u.Channel, string(u.Payload))
			return
		}
	}
	fmt.Fprintf(w, "%s %s\n", env.Type, string(env.Data))
}
