package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/provider/synthetic"
	"github.com/pulseworks/readycheck/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		seed         int64
		jsonOutput   bool
		outputFile   string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario JSON file")
	flag.Int64Var(&seed, "seed", 0, "Override the scenario seed (0 keeps the file's)")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.Parse()

	var scenario simulation.Scenario

	if scenarioFile != "" {
		data, err := os.ReadFile(scenarioFile)
		if err != nil {
			log.Fatalf("Failed to read scenario file: %v", err)
		}
		if err := json.Unmarshal(data, &scenario); err != nil {
			log.Fatalf("Failed to parse scenario file: %v", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
		scenario = defaultScenario()
	}

	if seed != 0 {
		scenario.Seed = seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := simulation.RunScenario(ctx, scenario)
	if err != nil {
		log.Fatalf("Scenario failed to run: %v", err)
	}

	writeReport(result, jsonOutput, outputFile)

	if !result.Success {
		os.Exit(1)
	}
}

// defaultScenario is a rogue and a caster hammering their openers for half
// a minute of compressed combat.
func defaultScenario() simulation.Scenario {
	return simulation.Scenario{
		Name:        "Default Demo",
		Description: "Greedy rogue on energy, periodic caster on mana",
		Duration:    30 * time.Second,
		Seed:        7,
		World: synthetic.Config{
			Pools: []synthetic.PoolConfig{
				{
					ID:                "energy",
					Model:             engine.RegenFixedTick,
					Max:               100,
					Start:             100,
					TickPeriodSeconds: 2,
					TickAmount:        20,
				},
				{
					ID:                   "mana",
					Model:                engine.RegenLearned,
					Max:                  1000,
					Start:                1000,
					TickPeriodSeconds:    5,
					TickAmount:           60,
					SuppressedTickAmount: 15,
					WindowSeconds:        5,
				},
			},
			Abilities: []synthetic.AbilityConfig{
				{ID: "sinister_strike", Pool: "energy", Cost: 45},
				{ID: "frostbolt", Pool: "mana", Cost: 180},
			},
		},
		Casters: []simulation.CasterConfig{
			{Name: "rogue", Count: 1, AbilityID: "sinister_strike", Behavior: simulation.BehaviorGreedy, Rate: 2},
			{Name: "caster", Count: 1, AbilityID: "frostbolt", Behavior: simulation.BehaviorPeriodic, Rate: 0.5},
		},
		Invariants: []simulation.Invariant{
			{Metric: "early_rate", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "cast_rate", Condition: ">", Value: 0, Scope: "global"},
		},
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string) {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
	} else {
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf("\n--- Simulation Report: %s ---\n", res.ScenarioName))
		buf.WriteString(fmt.Sprintf("Duration: %s | Seed: %d\n", res.Duration, res.Seed))
		buf.WriteString(fmt.Sprintf("Attempts: %d | Casts: %d | Denied: %d | Early: %d | Predictions: %d\n",
			res.TotalAttempts, res.TotalCasts, res.TotalDenied, res.TotalEarly, res.TotalPredictions))
		if res.TotalDrained > 0 {
			buf.WriteString(fmt.Sprintf("Drained by sabotage: %.1f\n", res.TotalDrained))
		}

		if len(res.RateErrors) > 0 {
			buf.WriteString("\nLearned rates:\n")
			pools := make([]string, 0, len(res.RateErrors))
			for pool := range res.RateErrors {
				pools = append(pools, pool)
			}
			sort.Strings(pools)
			for _, pool := range pools {
				buf.WriteString(fmt.Sprintf("  %s: %.1f%% error\n", pool, res.RateErrors[pool]*100))
			}
		}

		if len(res.Invariants) > 0 {
			buf.WriteString("\nInvariants:\n")
			for _, inv := range res.Invariants {
				status := "FAIL"
				if inv.Passed {
					status = "PASS"
				}
				buf.WriteString(fmt.Sprintf("[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual))
			}
		}
		output = buf.Bytes()
	}

	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			log.Fatalf("Failed to write report to %s: %v", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
	} else {
		fmt.Println(string(output))
	}
}
