package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Short("am"),
	Long: sym.AM + ` am — Manage aurum engine configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (AURUM_* prefix, DATABASE_URL)
2. Project config (am.toml, found by walking up from the working directory)
3. User config (~/.aurum/am.toml)
4. Default values

Examples:
  aurum am show                  # Show effective configuration as TOML
  aurum am show --format json    # Show configuration as JSON
  aurum am sources               # Show where each setting came from
  aurum am init                  # Write a starter ~/.aurum/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective engine configuration. Credentials in database.dsn are redacted.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show where each setting is loaded from",
	RunE:  runAmSources,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Long:  "Write the built-in defaults as TOML to path (default ~/.aurum/am.toml).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (kept as .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amSourcesCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	redacted := *cfg
	redacted.Database.DSN = am.RedactDSN(cfg.Database.DSN)

	switch configFormat {
	case "json":
		return display.JSON(cmd.OutOrStdout(), redacted)
	case "toml":
		data, err := am.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# aurum engine configuration\n%s", data)
		return nil
	case "yaml":
		data, err := am.MarshalYAML(&redacted)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# aurum engine configuration\n%s", data)
		return nil
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmSources(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	settings := am.GetConfigIntrospection()
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	rows := make([][]string, 0, len(settings))
	for _, s := range settings {
		source := string(s.Source)
		if s.SourcePath != "" {
			source += " (" + s.SourcePath + ")"
		}
		rows = append(rows, []string{s.Key, fmt.Sprintf("%v", s.Value), source})
	}
	return display.Table(cmd.OutOrStdout(), []string{"KEY", "VALUE", "SOURCE"}, rows)
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("cannot determine home directory; pass a path")
	}

	if err := am.WriteDefault(path, initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}
