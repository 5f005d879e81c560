// Command gateway-check probes the payment gateway once with every
// authentication strategy and reports which ones the server accepts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"lipila-gateway/config"
	"lipila-gateway/gateway"
	"lipila-gateway/logging"
	"lipila-gateway/providers"
)

func main() {
	path := flag.String("path", providers.DefaultPaths().Health, "gateway path to probe")
	timeout := flag.Duration("timeout", 10*time.Second, "timeout per probe")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Logging)
	if problem := cfg.Lipila.CredentialProblem(); problem != "" {
		log.Error("critical misconfiguration", "problem", problem)
		os.Exit(2)
	}

	client := gateway.NewClient(log, gateway.Options{BaseURL: cfg.Lipila.BaseURL, Secret: cfg.Lipila.SecretKey})
	reports := client.CheckConnectivity(context.Background(), *path, *timeout)

	fmt.Printf("gateway %s%s, secret %s\n\n", cfg.Lipila.BaseURL, *path, gateway.MaskSecret(cfg.Lipila.SecretKey))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tRESULT\tSTATUS\tLATENCY\tERROR")
	passed := 0
	for _, r := range reports {
		result, errText := "FAIL", ""
		if r.OK {
			result = "PASS"
			passed++
		}
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Strategy, result, r.StatusCode, r.Latency.Round(time.Millisecond), errText)
	}
	_ = tw.Flush()

	if passed == 0 {
		fmt.Println("\nno authentication strategy was accepted")
		os.Exit(1)
	}
	fmt.Printf("\n%d of %d strategies accepted\n", passed, len(reports))
}
