package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/crensch/pushgate/internal/config"
)

func configCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "missing subcommand: validate")
		return 2
	}

	switch args[0] {
	case "validate":
		return configValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func configValidate(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./Pushgatefile", "path to config file")
	format := fs.String("format", "json", "output format: json|text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return configValidateError(*format, err.Error())
	}

	_, res := config.Compile(cfg)
	msg := formatValidation(*format, res)
	if res.OK() {
		fmt.Fprintln(os.Stdout, msg)
		return 0
	}
	fmt.Fprintln(os.Stderr, msg)
	return 1
}

// configValidateError emits a load/parse failure in the requested format.
func configValidateError(format, msg string) int {
	res := config.ValidationResult{Errors: []string{msg}}
	fmt.Fprintln(os.Stderr, formatValidation(format, res))
	return 1
}

func formatValidation(format string, res config.ValidationResult) string {
	if format == "text" {
		var b strings.Builder
		if res.OK() {
			b.WriteString("ok")
		} else {
			b.WriteString("invalid")
		}
		for _, e := range res.Errors {
			b.WriteString("\nerror: ")
			b.WriteString(e)
		}
		for _, w := range res.Warnings {
			b.WriteString("\nwarning: ")
			b.WriteString(w)
		}
		return b.String()
	}

	payload := struct {
		OK       bool     `json:"ok"`
		Errors   []string `json:"errors,omitempty"`
		Warnings []string `json:"warnings,omitempty"`
	}{
		OK:       res.OK(),
		Errors:   res.Errors,
		Warnings: res.Warnings,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
