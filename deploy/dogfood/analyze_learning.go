//go:build ignore

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Event struct {
	EventType string
	TsEvent   time.Time
	Payload   []byte
}

type TickPayload struct {
	PoolID   string  `json:"pool_id"`
	Phase    string  `json:"phase"`
	Amount   float64 `json:"amount"`
	Recorded bool    `json:"recorded"`
}

type RatePayload struct {
	PoolID string  `json:"pool_id"`
	Phase  string  `json:"phase"`
	Rate   float64 `json:"rate"`
}

func main() {
	db, err := sql.Open("sqlite3", "deploy/dogfood/readycheck.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT event_type, ts_event, payload
		FROM events
		WHERE event_type IN ('regen_tick_observed', 'rate_learned')
		ORDER BY ts_event ASC
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var payloadBytes []byte
		if err := rows.Scan(&evt.EventType, &evt.TsEvent, &payloadBytes); err != nil {
			log.Fatal(err)
		}
		evt.Payload = payloadBytes
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%-10s | %-5s | %-8s | %-10s | %-12s | %-8s | %-8s\n",
		"Timestamp", "Type", "Pool", "Phase", "Amount", "Learned", "Drift")
	fmt.Println("--------------------------------------------------------------------------------")

	// Running floor of recorded tick amounts per pool and phase. The
	// learned rate should converge onto it; drift shows how far off the
	// projection sits at each announcement.
	minSeen := make(map[string]float64)

	for _, evt := range events {
		tsStr := evt.TsEvent.Format("15:04:05")

		if evt.EventType == "regen_tick_observed" {
			var p TickPayload
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				continue
			}
			key := p.PoolID + "|" + p.Phase
			amountStr := fmt.Sprintf("%.1f", p.Amount)
			if p.Recorded {
				if cur, ok := minSeen[key]; !ok || p.Amount < cur {
					minSeen[key] = p.Amount
				}
			} else {
				amountStr += " (unrec)"
			}
			fmt.Printf("%-10s | %-5s | %-8s | %-10s | %-12s | %-8s | %-8s\n",
				tsStr, "TICK", p.PoolID, p.Phase, amountStr, "-", "-")
		} else {
			var p RatePayload
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				continue
			}
			key := p.PoolID + "|" + p.Phase
			driftStr := "-"
			if floor, ok := minSeen[key]; ok && floor > 0 {
				driftStr = fmt.Sprintf("%.2f", p.Rate-floor)
			}
			fmt.Printf("%-10s | %-5s | %-8s | %-10s | %-12s | %-8.1f | %-8s\n",
				tsStr, "RATE", p.PoolID, p.Phase, "-", p.Rate, driftStr)
		}
	}
}
