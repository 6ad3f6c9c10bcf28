package app

import (
	"fmt"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp()
		return 2
	}

	switch args[1] {
	case "run":
		return run()
	case "config":
		return configCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(os.Stdout, "pushgate")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage:")
	fmt.Fprintln(os.Stdout, "  pushgate run --config ./Pushgatefile [--pid-file ./pushgate.pid] [--watch] [--log-level info] [--dotenv ./.env]")
	fmt.Fprintln(os.Stdout, "  pushgate config validate --config ./Pushgatefile --format json|text")
	fmt.Fprintln(os.Stdout, "  pushgate version [--long] [--json]")
}
