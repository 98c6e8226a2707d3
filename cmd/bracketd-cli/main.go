package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"bracketd/pkg/bracketd"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bracketd-cli [-addr URL] <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version           Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status            Show venue connection status\n")
		fmt.Fprintf(os.Stderr, "  logs              Print recorded trade logs\n")
		fmt.Fprintf(os.Stderr, "  config            Print the runtime order settings\n")
		fmt.Fprintf(os.Stderr, "  set <path> <val>  Update one settings path (dot notation)\n")
		fmt.Fprintf(os.Stderr, "  reset             Cancel all open orders at the venue\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	addr := flag.String("addr", "http://127.0.0.1:8000", "bracketd server address")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	client := bracketd.NewClient(*addr)

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("bracketd-cli %s\n", version)

	case "status":
		connected, err := client.ConnectionStatus(ctx)
		exitOn(err)
		fmt.Printf("venue connected: %v\n", connected)

	case "logs":
		logs, err := client.TradeLogs(ctx)
		exitOn(err)
		printJSON(logs)

	case "config":
		cfg, err := client.Config(ctx)
		exitOn(err)
		printJSON(cfg)

	case "set":
		if flag.NArg() != 3 {
			fmt.Fprintln(os.Stderr, "usage: bracketd-cli set <path> <value>")
			os.Exit(1)
		}
		err := client.UpdateConfig(ctx, map[string]any{
			flag.Arg(1): parseValue(flag.Arg(2)),
		})
		exitOn(err)
		fmt.Println("updated")

	case "reset":
		exitOn(client.ResetOrders(ctx))
		fmt.Println("all open orders cancelled")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}

// parseValue interprets the CLI string as bool, number, or string.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	exitOn(err)
	fmt.Println(string(data))
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
