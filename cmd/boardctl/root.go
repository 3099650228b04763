package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prism-board/client"
)

type app struct {
	v      *viper.Viper
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: log.New()}

	root := &cobra.Command{
		Use:          "boardctl",
		Short:        "Inspect and rearrange a task board",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger.SetOutput(cmd.ErrOrStderr())
			if a.v.GetBool("debug") {
				a.logger.SetLevel(log.DebugLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("api-url", "http://localhost:8080", "board API base URL")
	flags.String("token", "", "bearer token")
	flags.Bool("debug", false, "enable debug logging")
	_ = a.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("token", flags.Lookup("token"))
	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))

	// BOARD_API_URL, BOARD_TOKEN, BOARD_DEBUG
	a.v.SetEnvPrefix("BOARD")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(a.listCmd(), a.createCmd(), a.moveCmd(), a.tokenCmd())
	return root
}

func (a *app) client() (*client.Client, error) {
	base := a.v.GetString("api_url")
	if base == "" {
		return nil, errors.New("api url is required")
	}
	return client.New(base, a.v.GetString("token")), nil
}

// stderrNotifier prints session failures for the user.
type stderrNotifier struct{ w io.Writer }

func (n stderrNotifier) Notify(message string) {
	fmt.Fprintln(n.w, "error:", message)
}
