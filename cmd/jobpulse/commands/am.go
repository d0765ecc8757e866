package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show and validate jobpulse configuration",
	Long: sym.AM + ` am — Show and validate jobpulse configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags (--config, --port, --db-path)
2. Environment variables (JOBPULSE_* prefix)
3. Project config (./jobpulse.toml, searched upwards)
4. User config (~/.jobpulse/config.toml)
5. System config (/etc/jobpulse/config.toml)
6. Default values

Examples:
  jobpulse am show                    # merged configuration as TOML
  jobpulse am show --format json
  jobpulse am validate
  jobpulse am where`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the merged configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which config files were loaded",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	// Load first so an invalid file fails here rather than printing half a config
	if _, err := loadConfig(); err != nil {
		return err
	}
	settings := am.Settings()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# jobpulse configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# jobpulse configuration\n%s", string(data))

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Println("✓ Configuration is valid")
	fmt.Printf("  %d sources (%d enabled), import every %s\n",
		len(cfg.Import.Sources), len(cfg.EnabledSources()), cfg.ImportInterval())
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	files := am.LoadedFiles()
	fmt.Printf("%s Configuration sources\n", sym.AM)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	if len(files) == 0 {
		fmt.Println("No config files found; using defaults and JOBPULSE_* environment")
		return nil
	}
	for i, f := range files {
		marker := " "
		if i == len(files)-1 {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, f)
	}
	fmt.Println("\n* highest precedence, watched by the server")
	return nil
}
