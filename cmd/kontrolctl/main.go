// Command kontrolctl is the instructor console on the command line. It talks
// to the result service directly with the teacher token.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/logger"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kontrolctl",
		Short:         "Instructor console for Kontrol results",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	f := root.PersistentFlags()
	f.String("remote-url", "", "Result service base URL (or KONTROL_REMOTE_URL)")
	f.String("remote-token", "", "Teacher token of the result service (or KONTROL_REMOTE_TOKEN)")
	f.Duration("timeout", 15*time.Second, "Result service request timeout")
	f.String("variants-dir", "", "Local variants directory used as the last answer key source")
	f.String("lang", "ru", "Message language (ru, en)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "pretty", "Log format (pretty, json)")

	root.AddCommand(
		listCmd(),
		getCmd(),
		autocheckCmd(),
		voidCmd(),
		resetCodeCmd(),
		timerCmd(),
		exportCmd(),
	)
	return root
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("KONTROL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("kontrolctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/kontrol")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			_, _ = os.Stderr.WriteString("kontrolctl: config file: " + err.Error() + "\n")
		}
	}
	return v
}

// env is everything a subcommand needs, built from flags, environment and
// the optional kontrolctl config file.
type env struct {
	v   *viper.Viper
	log zerolog.Logger
	agg *console.Aggregator
}

func newEnv(cmd *cobra.Command) (*env, error) {
	v := viperForCmd(cmd)
	log := logger.SetupWriter(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))

	if err := i18n.Init(v.GetString("lang")); err != nil {
		return nil, err
	}

	client := remote.New(v.GetString("remote-url"), v.GetString("remote-token"), v.GetDuration("timeout"), log)
	if !client.Configured() {
		return nil, remote.ErrNotConfigured
	}

	var loader variant.Loader
	if dir := v.GetString("variants-dir"); dir != "" {
		loader = variant.NewDirLoader(dir)
	}
	return &env{
		v:   v,
		log: log,
		agg: console.NewAggregator(client, reset.NewWorkflow(client, log), loader, log),
	}, nil
}
