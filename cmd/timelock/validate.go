package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/johnivansn/timelock/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the TimeLock configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		loaded := config.New(configPath)
		if err := loaded.ReadInConfig(); err != nil {
			// Defaults and environment only
			loaded = config.New("")
		}
		dumpConfig(os.Stdout, loaded, config.New(""))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys. Every key
// carries a default, so the defaults are the schema.
func getValidKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, key := range config.New("").AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaults *viper.Viper) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	_, _ = fmt.Fprintln(w, "FULL CONFIGURATION (values different from defaults are highlighted)")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 80))

	keys := defaults.AllKeys()
	sort.Strings(keys)

	section := ""
	for _, key := range keys {
		dot := strings.LastIndex(key, ".")
		if prefix := key[:dot]; prefix != section {
			section = prefix
			_, _ = cyan.Fprintf(w, "\n[%s]\n", section)
		}

		value, defaultValue := cfg.Get(key), defaults.Get(key)
		if strings.HasSuffix(key, "password") {
			value, defaultValue = redactPassword(fmt.Sprint(value)), redactPassword(fmt.Sprint(defaultValue))
		}
		dumpField(w, "  "+key[dot+1:], value, defaultValue, yellow, green)
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue any, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprint(value)

	if valueStr == fmt.Sprint(defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
