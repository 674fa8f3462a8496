package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/replygate/internal/config"
)

func configCmd() *cobra.Command {
	var savePath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Long: "Loads the config file, applies REPLYGATE_* environment overrides and prints the result.\n" +
			"With --save, also writes it to a file with secrets removed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(os.Stdout, resolveConfigPath(), savePath)
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "write the effective config, secrets stripped, to this path")
	return cmd
}

func showConfig(w io.Writer, path, savePath string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := json.MarshalIndent(cfg.MaskedCopy(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprintf(w, "# %s (hash %s)\n%s\n", path, cfg.Hash(), data)

	if savePath != "" {
		if err := config.Save(savePath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(w, "# saved to %s\n", savePath)
	}
	return nil
}
