package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "health":
		err = healthCmd(os.Args[2:])
	case "reports":
		err = reportsCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the crowdcount service.
Usage:
    %s [health|reports] [flags]

Commands:
    health   query the gRPC health service
    reports  log in and list stored count records

Example:
    %s health -addr localhost:9090
    %s reports -url http://localhost:8080 -user admin -password secret -limit 10
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func healthCmd(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	var (
		addrF    = fs.String("addr", "localhost:9090", "gRPC health address")
		serviceF = fs.String("service", "", "Service name, empty for overall status")
		timeoutF = fs.Int("timeout", 5, "Maximum number of seconds to wait for response")
	)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutF)*time.Second)
	defer cancel()

	out, err := checkHealth(ctx, *addrF, *serviceF)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func reportsCmd(args []string) error {
	fs := flag.NewFlagSet("reports", flag.ExitOnError)
	var (
		urlF      = fs.String("url", "http://localhost:8080", "HTTP API base URL")
		userF     = fs.String("user", "", "Username, login is skipped when empty")
		passwordF = fs.String("password", "", "Password")
		sinceF    = fs.String("since", "", "Only records created at or after this RFC3339 time")
		limitF    = fs.Int("limit", 0, "Maximum number of records")
		timeoutF  = fs.Int("timeout", 30, "Maximum number of seconds to wait for response")
	)
	fs.Parse(args)

	c := newAPIClient(*urlF, time.Duration(*timeoutF)*time.Second)
	if *userF != "" {
		if err := c.login(*userF, *passwordF); err != nil {
			return err
		}
	}

	reports, err := c.reports(*sinceF, *limitF)
	if err != nil {
		return err
	}
	return printReports(os.Stdout, reports)
}
