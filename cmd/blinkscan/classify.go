package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blinkscan/blinkscan/internal/classify"
	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/pkg/config"
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify NAME [NAME...]",
	Short: "Classify device names without scanning",
	Long: `Classify advertised device names against the configured rules without
touching the radio.

Useful for checking how a device would be categorized, or for tuning
custom name patterns in the configuration file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

var (
	classifyMfgData    string
	classifyConfigPath string
)

func init() {
	classifyCmd.Flags().StringVar(&classifyMfgData, "manufacturer-data", "", "Hex manufacturer data applied to every name (e.g. e502)")
	classifyCmd.Flags().StringVarP(&classifyConfigPath, "config", "c", "", "Configuration file (YAML)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(classifyConfigPath)
	if err != nil {
		return err
	}

	var mfg []byte
	if classifyMfgData != "" {
		mfg, err = hex.DecodeString(strings.TrimPrefix(classifyMfgData, "0x"))
		if err != nil {
			return fmt.Errorf("invalid manufacturer data: %w", err)
		}
	}

	cmd.SilenceUsage = true

	cls := classify.New(classify.Config{
		NamePatterns:    cfg.NamePatterns,
		ManufacturerIDs: cfg.ManufacturerIDs,
	})

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE")
	for _, name := range args {
		rec := device.Record{Name: name, ManufacturerData: mfg}
		fmt.Fprintf(tw, "%s\t%s\n", name, cls.Classify(rec))
	}
	return tw.Flush()
}
