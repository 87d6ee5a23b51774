package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/realtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a user's event stream and print each event as a JSON line",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := watch(cmd); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	rp := config.DefaultReconnectPolicy()
	watchCmd.Flags().StringP("user", "u", "", "identity to watch (sent as x-user-id)")
	watchCmd.Flags().String("url", "http://localhost:8083", "base URL of the matching service")
	watchCmd.Flags().Int("max-attempts", rp.MaxAttempts, "consecutive failed connects before giving up")
	watchCmd.Flags().Duration("initial-delay", rp.InitialDelay, "first reconnect delay")
	watchCmd.Flags().Duration("max-delay", rp.MaxDelay, "reconnect delay cap")
	watchCmd.Flags().Duration("attempt-timeout", rp.AttemptTimeout, "time allowed for one connect attempt")
	watchCmd.MarkFlagRequired("user")
}

func watch(cmd *cobra.Command) error {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer l.Sync()

	flags := cmd.Flags()
	user, _ := flags.GetString("user")
	url, _ := flags.GetString("url")
	var policy config.ReconnectPolicy
	policy.MaxAttempts, _ = flags.GetInt("max-attempts")
	policy.InitialDelay, _ = flags.GetDuration("initial-delay")
	policy.MaxDelay, _ = flags.GetDuration("max-delay")
	policy.AttemptTimeout, _ = flags.GetDuration("attempt-timeout")
	if err := policy.Validate(); err != nil {
		l.Error("invalid reconnect flags", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	client := realtime.NewClient(url, policy, l)
	l.Info("watching event stream", "url", url, "user_id", user)

	err = client.Watch(ctx, user, func(ev notify.Event) {
		if err := enc.Encode(ev); err != nil {
			l.Warn("writing event", "event", ev.Name, "err", err)
		}
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, realtime.ErrGaveUp):
		l.Error("event stream unavailable", "err", err)
	default:
		l.Error("watching event stream", "err", err)
	}
	return err
}
