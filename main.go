package main

import (
	"flag"
	"fmt"
	"os"

	"meridian-router.dev/meridian/cmd"
	"meridian-router.dev/meridian/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", brand.ConfigFilePath(), "Configuration file")
		serveFlags.StringVar(configFile, "c", brand.ConfigFilePath(), "Configuration file (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "collect":
		collectFlags := flag.NewFlagSet("collect", flag.ExitOnError)
		configFile := collectFlags.String("config", brand.ConfigFilePath(), "Configuration file")
		collectFlags.StringVar(configFile, "c", brand.ConfigFilePath(), "Configuration file (short)")
		collectFlags.Parse(os.Args[2:])

		if err := cmd.RunCollect(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Collect failed: %v\n", err)
			os.Exit(1)
		}

	case "apply-network":
		applyFlags := flag.NewFlagSet("apply-network", flag.ExitOnError)
		configFile := applyFlags.String("config", brand.ConfigFilePath(), "Configuration file")
		applyFlags.StringVar(configFile, "c", brand.ConfigFilePath(), "Configuration file (short)")
		applyFlags.Parse(os.Args[2:])

		if err := cmd.RunApplyNetwork(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.ConfigFilePath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", brand.Name, brand.Version)
		fmt.Printf("Build: %s\n", brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  serve          Run the daemon (API server, collector, alert loop)
                 Options: --config (-c) <file>
  collect        Run one metrics collection pass and exit
                 Options: --config (-c) <file>
  apply-network  Sync interfaces, routes and the firewall ruleset at boot
                 Options: --config (-c) <file>
  check          Validate a configuration file
                 Options: --verbose (-v)
  version        Print version info

Examples:
  %s serve -c /etc/meridian/meridian.hcl
  %s check -v /etc/meridian/meridian.hcl
  %s collect
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName, brand.LowerName)
}
