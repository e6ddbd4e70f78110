package helpers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string) {
	names := make([]string, len(SupportedFormats))
	for i, f := range SupportedFormats {
		names[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(names, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(FormatTable), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is supported.
func ValidateFormat(format string) (OutputFormat, error) {
	for _, s := range SupportedFormats {
		if format == string(s) {
			return s, nil
		}
	}
	names := make([]string, len(SupportedFormats))
	for i, s := range SupportedFormats {
		names[i] = string(s)
	}
	return "", fmt.Errorf("unsupported format %q, must be one of: %s", format, strings.Join(names, ", "))
}

// ParseAddress accepts 0x-prefixed hex, 0-prefixed octal or decimal.
func ParseAddress(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// Hex renders an address the way every command prints it.
func Hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
