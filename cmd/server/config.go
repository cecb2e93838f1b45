package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/crowdpointer/internal/config"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(redact(*cfg))
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// redact hides credentials embedded in the Redis URL.
func redact(c config.Config) config.Config {
	if c.Redis.URL == "" {
		return c
	}
	u, err := url.Parse(c.Redis.URL)
	if err != nil {
		c.Redis.URL = "***"
		return c
	}
	c.Redis.URL = u.Redacted()
	return c
}
