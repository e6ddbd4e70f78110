package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// SupportedFormats lists the formats listing commands accept.
var SupportedFormats = []OutputFormat{FormatTable, FormatJSON}

// Format writes rows, a slice of structs, in the given format. Table
// columns are the fields with a `header` tag.
func Format(w io.Writer, format OutputFormat, rows any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatTable:
		return formatTable(w, rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func formatTable(w io.Writer, rows any) error {
	val := reflect.ValueOf(rows)
	if val.Kind() != reflect.Slice {
		return fmt.Errorf("data must be a slice, got %T", rows)
	}
	if val.Len() == 0 {
		return nil
	}

	elemType := val.Type().Elem()
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	var cols []int
	var headers []string
	for i := range elemType.NumField() {
		if h := elemType.Field(i).Tag.Get("header"); h != "" {
			cols = append(cols, i)
			headers = append(headers, h)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	cells := make([]string, len(cols))
	for i := range val.Len() {
		row := reflect.Indirect(val.Index(i))
		for k, c := range cols {
			cells[k] = fmt.Sprintf("%v", row.Field(c).Interface())
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}
