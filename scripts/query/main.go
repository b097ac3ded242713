package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"FlowSentry/internal/config"
	"FlowSentry/internal/query"
)

// --- Main Function ---
func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of ns-api.")
	configPath := flag.String("config", "configs/config.yaml", "Configuration file used in direct mode.")
	host := flag.String("host", "", "List detections involving this IP instead of the summary.")
	since := flag.String("since", "1h", "Summary lower bound, a duration back from now or an RFC3339 time.")
	limit := flag.Int("limit", 20, "Maximum detections listed for -host.")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, *host, *since, *limit)
	case "direct":
		directQueryClickHouse(*configPath, *host, *since, *limit)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func queryViaAPI(base, host, since string, limit int) {
	var target string
	if host != "" {
		target = fmt.Sprintf("%s/api/v1/detections/host/%s?limit=%d", base, url.PathEscape(host), limit)
	} else {
		target = fmt.Sprintf("%s/api/v1/detections/summary?since=%s", base, url.QueryEscape(since))
	}
	log.Printf("Sending request to %s", target)

	resp, err := http.Get(target)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	log.Println("---")
	fmt.Println(prettyJSON.String())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(configPath, host, since string, limit int) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	q, err := query.NewClickHouseQuerier(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if host != "" {
		dets, err := q.ByHost(ctx, host, limit)
		if err != nil {
			log.Fatalf("Host query failed: %v", err)
		}
		log.Println("---")
		for _, d := range dets {
			fmt.Printf("%s  %-15s -> %-15s :%-5d %-14s %-12s %.3f\n",
				d.Timestamp.Format(time.RFC3339), d.SrcIP, d.DstIP, d.DstPort, d.Reason, d.ClassGuess, d.Score)
		}
		log.Printf("%d detections", len(dets))
		return
	}

	var from time.Time
	if d, err := time.ParseDuration(since); err == nil {
		from = time.Now().Add(-d)
	} else if from, err = time.Parse(time.RFC3339, since); err != nil {
		log.Fatalf("Invalid -since value %q", since)
	}
	rows, err := q.Summary(ctx, from)
	if err != nil {
		log.Fatalf("Summary query failed: %v", err)
	}
	log.Println("---")
	fmt.Printf("%-14s %-12s %8s %9s  %s\n", "REASON", "CLASS", "COUNT", "MAX", "LAST SEEN")
	for _, r := range rows {
		fmt.Printf("%-14s %-12s %8s %9.3f  %s\n", r.Reason, r.ClassGuess,
			strconv.FormatUint(r.Count, 10), r.MaxScore, r.LastSeen.Format(time.RFC3339))
	}
}
