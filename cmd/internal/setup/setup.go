// Package setup builds the components shared by the commands from their flags and configuration
package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/client"
	"github.com/github/deploylock/pkg/config"
	"github.com/github/deploylock/pkg/github"
	"github.com/github/deploylock/pkg/local"
)

// ConfigFlag is the flag that names a config file
const ConfigFlag = "config"

// Config loads the configuration using the command's flags
func Config(cmd *cobra.Command) (config.Config, error) {
	v := viper.New()

	if file, _ := cmd.Flags().GetString(ConfigFlag); file != "" {
		v.SetConfigFile(file)
	}

	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}

	return config.Load(v)
}

// Logger returns a text logger on stderr with the configured level
func Logger(conf config.Config) (*slog.Logger, error) {
	ll, err := deploylock.ParseLogLevel(conf.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %w", err)
	}

	return slog.New(
		slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{
				Level: ll,
			},
		),
	), nil
}

// Service returns a client of the lock server if serverURL is set, or a lock service running
// in-process otherwise
func Service(
	ctx context.Context,
	conf config.Config,
	serverURL string,
	opts local.Options,
) (deploylock.Service, error) {
	if serverURL != "" {
		return client.NewLockServiceClient(client.LockServiceClientConfig{
			URL:           serverURL,
			Authorization: conf.Server.Token,
		})
	}

	return local.NewLocker(ctx, conf, opts)
}

// GitHubClient returns a client for the configured repository, or nil if no repository or token is configured
func GitHubClient(conf config.Config) (*github.Client, error) {
	if conf.GitHub.Token == "" || conf.GitHub.Repository == "" {
		return nil, nil //nolint:nilnil
	}

	return github.NewClient(github.Config{
		APIURL:     conf.GitHub.APIURL,
		Token:      conf.GitHub.Token,
		Repository: conf.GitHub.Repository,
	})
}

// Origin returns the origin of a request issued from the configured repository
func Origin(conf config.Config) deploylock.Origin {
	return deploylock.Origin{
		ServerURL:  conf.GitHub.ServerURL,
		Repository: conf.GitHub.Repository,
	}
}

// Print writes the value as indented JSON
func Print(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("processing response %w", err)
	}
	return nil
}
