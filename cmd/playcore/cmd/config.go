package cmd

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/pkg/bytesize"
	"github.com/jmylchreest/playcore/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing playcore configuration.`,
}

var configEffective bool

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the configuration values in YAML format.

By default this shows every option with its default value. You can redirect
the output to a file to create a configuration template:

  playcore config dump > .playcore.yaml

With --effective the values after applying the config file and environment
are shown instead.

Configuration can be set via:
  - Config file (.playcore.yaml in $HOME, the working directory or /etc/playcore)
  - Environment variables (PLAYCORE_SERVER_PORT, PLAYCORE_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the PLAYCORE_ prefix and underscores for nesting.
Example: buffer.wanted_buffer_ahead -> PLAYCORE_BUFFER_WANTED_BUFFER_AHEAD`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configDumpCmd.Flags().BoolVar(&configEffective, "effective", false, "dump the effective configuration instead of defaults")
}

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	cfgDurationType = reflect.TypeOf(config.Duration(0))
	cfgByteSizeType = reflect.TypeOf(config.ByteSize(0))
)

// toMap converts a struct to a map keyed by mapstructure tags, formatting
// durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch field.Type() {
		case durationType, cfgDurationType:
			result[key] = duration.Format(time.Duration(field.Int()))
			continue
		case cfgByteSizeType:
			result[key] = bytesize.Format(bytesize.Size(field.Int()))
			continue
		}

		if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
		} else {
			result[key] = field.Interface()
		}
	}
	return result
}

// writeConfig writes cfg as YAML preceded by a documentation header.
func writeConfig(w io.Writer, cfg *config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []string{
		"# playcore Configuration File",
		"# ============================",
		"#",
		"# Duration format: 500ms, 30s, 5m, 7d",
		"# Size format: 64MB, 1GB",
		"#",
		"# Environment variable overrides:",
		"#   PLAYCORE_SERVER_HOST, PLAYCORE_SERVER_PORT",
		"#   PLAYCORE_DATABASE_DRIVER, PLAYCORE_DATABASE_DSN",
		"#   PLAYCORE_LOGGING_LEVEL, PLAYCORE_LOGGING_FORMAT",
		"#   etc.",
		"#",
		"",
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\n")); err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configEffective {
		cfg, err = loadConfig()
	} else {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.FromViper(v)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}
