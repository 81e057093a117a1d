package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("invalid output format %q: must be table, json or yaml", format)
}

// render writes v in the selected format. table draws the human-readable
// form.
func (e *Env) render(v any, table func(w *tabwriter.Writer)) error {
	switch e.Output {
	case formatJSON:
		enc := json.NewEncoder(e.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(e.Out, v)
	default:
		w := tabwriter.NewWriter(e.Out, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	}
}

// writeYAML keeps the JSON field names by going through a generic value
func writeYAML(out io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// message prints a status line in table mode only, keeping json and yaml
// output machine-readable
func (e *Env) message(format string, args ...any) {
	if e.Output == formatTable {
		fmt.Fprintf(e.Out, format+"\n", args...)
	}
}

// ValidateEnv rejects flag combinations before any command runs
func ValidateEnv(env *Env) error {
	return validFormat(env.Output)
}
