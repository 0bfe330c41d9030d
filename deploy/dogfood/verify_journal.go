package main

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	db, err := sql.Open("sqlite3", "deploy/dogfood/readycheck.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var total int
	err = db.QueryRow("SELECT count(*) FROM events").Scan(&total)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Total events: %d\n", total)

	rows, err := db.Query("SELECT event_type, count(*) FROM events GROUP BY event_type ORDER BY count(*) DESC")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("  %-24s %d\n", eventType, count)
	}
	if err := rows.Err(); err != nil {
		log.Fatal(err)
	}
}
