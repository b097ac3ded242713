// Package query reads persisted detections back from ClickHouse.
package query

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"

	"FlowSentry/internal/config"
	"FlowSentry/internal/writer"
)

// DefaultHostLimit bounds ByHost when no limit is given.
const DefaultHostLimit = 100

// SummaryRow counts detections for one reason and class.
type SummaryRow struct {
	Reason     string    `json:"reason"`
	ClassGuess string    `json:"class_guess"`
	Count      uint64    `json:"count"`
	MaxScore   float64   `json:"max_score"`
	LastSeen   time.Time `json:"last_seen"`
}

// HostDetection is one stored detection involving a host.
type HostDetection struct {
	RunID      string         `json:"run_id"`
	Timestamp  time.Time      `json:"ts"`
	RowID      int64          `json:"row_id"`
	SrcIP      string         `json:"src_ip"`
	DstIP      string         `json:"dst_ip"`
	DstPort    int32          `json:"dst_port"`
	Reason     string         `json:"reason"`
	ClassGuess string         `json:"class_guess"`
	Score      float64        `json:"score"`
	Explain    map[string]any `json:"explain"`
}

// Querier defines the interface for querying detections.
type Querier interface {
	Summary(ctx context.Context, since time.Time) ([]SummaryRow, error)
	ByHost(ctx context.Context, ip string, limit int) ([]HostDetection, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := writer.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn, table: cfg.Table}, nil
}

func buildSummaryQuery(table string, since time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT
			Reason,
			ClassGuess,
			count() AS Hits,
			max(Score) AS MaxScore,
			max(Timestamp) AS LastSeen
		FROM ` + table)

	var args []any
	if !since.IsZero() {
		b.WriteString(" WHERE Timestamp >= ?")
		args = append(args, since)
	}
	b.WriteString(`
		GROUP BY Reason, ClassGuess
		ORDER BY Hits DESC, Reason, ClassGuess
	`)
	return b.String(), args
}

// Summary counts detections per reason and class since the given time.
// A zero since covers all stored detections.
func (q *clickhouseQuerier) Summary(ctx context.Context, since time.Time) ([]SummaryRow, error) {
	query, args := buildSummaryQuery(q.table, since)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summary []SummaryRow
	for rows.Next() {
		var s SummaryRow
		if err := rows.Scan(&s.Reason, &s.ClassGuess, &s.Count, &s.MaxScore, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary = append(summary, s)
	}
	return summary, rows.Err()
}

func buildHostQuery(table, ip string, limit int) (string, []any, error) {
	if net.ParseIP(ip) == nil {
		return "", nil, fmt.Errorf("invalid host address: %q", ip)
	}
	if limit <= 0 {
		limit = DefaultHostLimit
	}
	query := `
		SELECT RunID, Timestamp, RowID, SrcIP, DstIP, DstPort, Reason, ClassGuess, Score, Explain
		FROM ` + table + `
		WHERE SrcIP = ? OR DstIP = ?
		ORDER BY Timestamp DESC, RowID DESC
		LIMIT ?
	`
	return query, []any{ip, ip, limit}, nil
}

// ByHost returns the most recent detections where ip is either endpoint.
func (q *clickhouseQuerier) ByHost(ctx context.Context, ip string, limit int) ([]HostDetection, error) {
	query, args, err := buildHostQuery(q.table, ip, limit)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []HostDetection
	for rows.Next() {
		var (
			d       HostDetection
			explain string
		)
		if err := rows.Scan(&d.RunID, &d.Timestamp, &d.RowID, &d.SrcIP, &d.DstIP, &d.DstPort,
			&d.Reason, &d.ClassGuess, &d.Score, &explain); err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		if explain != "" {
			if err := json.Unmarshal([]byte(explain), &d.Explain); err != nil {
				return nil, fmt.Errorf("row %d: malformed explain: %w", d.RowID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
