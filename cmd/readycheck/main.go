package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pulseworks/readycheck/pkg/client"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: readycheck <command> [args]

Commands:
  ask <ability> [current] [max]   one affordability check; exits 0 ready, 2 not ready
  wait <ability> [timeout]        block until the ability is affordable
  cast <ability>                  tell the daemon a cast just happened
  pools                           print live pool states
  status                          daemon health and role
  version                         print build info

The daemon endpoint comes from READYCHECK_API (default http://127.0.0.1:8090).`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	endpoint := os.Getenv("READYCHECK_API")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	c := client.NewClient(endpoint)
	ctx := context.Background()

	switch os.Args[1] {
	case "ask":
		runAsk(ctx, c, os.Args[2:])
	case "wait":
		runWait(ctx, c, os.Args[2:])
	case "cast":
		runCast(ctx, c, os.Args[2:])
	case "pools":
		runPools(ctx, c)
	case "status":
		runStatus(ctx, c)
	case "version":
		fmt.Printf("readycheck %s (%s, built %s)\n", Version, Commit, BuildTime)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func runAsk(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: readycheck ask <ability> [current] [max]")
		os.Exit(1)
	}

	ask := client.Ask{AbilityID: args[0]}
	if len(args) >= 3 {
		current, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Printf("Error: invalid current value %q\n", args[1])
			os.Exit(1)
		}
		max, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Printf("Error: invalid max value %q\n", args[2])
			os.Exit(1)
		}
		ask.Reading = &client.Reading{Current: current, Max: max}
	}

	pred, err := c.Ask(ctx, ask)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	printPrediction(pred)
	if !pred.Affordable {
		os.Exit(2)
	}
}

func runWait(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: readycheck wait <ability> [timeout]")
		os.Exit(1)
	}

	if len(args) >= 2 {
		timeout, err := time.ParseDuration(args[1])
		if err != nil {
			fmt.Printf("Error: invalid timeout %q\n", args[1])
			os.Exit(1)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pred, err := c.AwaitAffordable(ctx, client.Ask{AbilityID: args[0]})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Printf("Gave up waiting for %s\n", args[0])
			os.Exit(2)
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printPrediction(pred)
}

func runCast(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: readycheck cast <ability>")
		os.Exit(1)
	}
	if err := c.CastNotice(ctx, args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Is readycheck-d running?")
		os.Exit(1)
	}
	fmt.Printf("Noticed: %s\n", args[0])
}

func runPools(ctx context.Context, c *client.Client) {
	pools, err := c.Pools(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Is readycheck-d running?")
		os.Exit(1)
	}
	if len(pools) == 0 {
		fmt.Println("No pools tracked yet.")
		return
	}
	fmt.Printf("%-12s %-12s %10s %8s  %s\n", "POOL", "MODEL", "CURRENT", "MAX", "SUPPRESSED")
	for _, p := range pools {
		suppressed := "no"
		if p.Suppressed {
			suppressed = fmt.Sprintf("yes (%.1fs left)", p.SuppressedForSeconds)
		}
		fmt.Printf("%-12s %-12s %10.1f %8.1f  %s\n", p.PoolID, p.Model, p.Current, p.Max, suppressed)
	}
}

func runStatus(ctx context.Context, c *client.Client) {
	health, err := c.Ping(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Is readycheck-d running?")
		os.Exit(1)
	}
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Role:   %s\n", health.Role)
	if health.Epoch > 0 {
		fmt.Printf("Epoch:  %d\n", health.Epoch)
	}
	for _, src := range health.Sources {
		if src.Healthy {
			fmt.Printf("Source: %s (ok, last read %s)\n", src.SourceID, src.LastSuccess.Format(time.RFC3339))
			continue
		}
		fmt.Printf("Source: %s (failing after %d attempts: %s)\n", src.SourceID, src.ConsecutiveFailures, src.LastError)
	}
}

func printPrediction(pred client.Prediction) {
	switch {
	case pred.Affordable:
		fmt.Printf("%s: ready now\n", pred.AbilityID)
	case pred.Wait > 0:
		fmt.Printf("%s: ready in %.1fs (basis: %s)\n", pred.AbilityID, pred.WaitSeconds, pred.Basis)
	default:
		fmt.Printf("%s: not ready, no countdown available (basis: %s)\n", pred.AbilityID, pred.Basis)
	}
}
