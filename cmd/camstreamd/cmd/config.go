package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to create a configuration template:

  camstreamd config dump > camstreamd.yaml

Environment variables use the CAMSTREAMD_ prefix and underscores for
nesting, e.g. rtsp.port -> CAMSTREAMD_RTSP_PORT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg, "All values shown below are defaults.")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after merging the config file and environment. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg, "Effective configuration.")
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd, configShowCmd)
}

func writeConfig(w io.Writer, cfg *config.Config, note string) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprintf(w, "# camstreamd configuration\n# %s\n# Duration format: 500ms, 30s, 5m, 1h\n\n", note)
	_, err = w.Write(data)
	return err
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and redacting fields tagged masq:"secret".
func toMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	result := make(map[string]any, val.NumField())
	for i := range val.NumField() {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}
		result[key] = toValue(field, fieldType.Tag.Get("masq") == "secret")
	}
	return result
}

func toValue(field reflect.Value, secret bool) any {
	if secret {
		if field.IsZero() {
			return ""
		}
		return redacted
	}

	if d, ok := field.Interface().(time.Duration); ok {
		return d.String()
	}

	switch field.Kind() {
	case reflect.Struct:
		return toMap(field.Interface())
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.Struct {
			return field.Interface()
		}
		items := make([]any, 0, field.Len())
		for i := range field.Len() {
			items = append(items, toMap(field.Index(i).Interface()))
		}
		return items
	default:
		return field.Interface()
	}
}
