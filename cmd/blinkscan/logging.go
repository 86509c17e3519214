package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blinkscan/blinkscan/pkg/config"
)

// configureLogger builds the command logger from the loaded configuration.
// --log-level overrides the file; without either, interactive commands stay
// quiet so log lines do not interleave with rendered output.
func configureLogger(cmd *cobra.Command, cfg *config.Config, configExplicit bool) (*logrus.Logger, error) {
	logger := cfg.NewLogger()

	levelStr, _ := cmd.Flags().GetString("log-level")
	switch {
	case levelStr != "":
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		logger.SetLevel(level)
	case !configExplicit:
		logger.SetLevel(logrus.ErrorLevel)
	}

	return logger, nil
}
