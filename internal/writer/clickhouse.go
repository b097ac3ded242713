package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

const createDetectionsTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    RunID       String,
    Timestamp   DateTime64(3),
    RowID       Int64,
    SrcIP       String,
    DstIP       String,
    DstPort     Int32,
    Proto       LowCardinality(String),
    Reason      LowCardinality(String),
    ClassGuess  LowCardinality(String),
    Score       Float64,
    Explain     String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Reason, Timestamp);
`

// ClickHouseWriter implements model.Writer for ClickHouse. Every row carries
// the run id of the process that produced it.
type ClickHouseWriter struct {
	conn  clickhouse.Conn
	table string
	runID string
}

// NewClickHouseWriter connects and ensures the detections table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, runID string) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createDetectionsTableStatement, cfg.Table)); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", cfg.Table, err)
	}
	logging.Info().Str("component", "clickhouse").Str("table", cfg.Table).
		Msg("connected to ClickHouse and ensured detections table exists")
	return &ClickHouseWriter{conn: conn, table: cfg.Table, runID: runID}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write implements model.Writer with one batch insert per call.
func (w *ClickHouseWriter) Write(ctx context.Context, flows []model.FlowDetections) error {
	rows, err := detectionRows(w.runID, flows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append detection to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	logging.Debug().Str("component", "clickhouse").Int("rows", len(rows)).Msg("wrote detections")
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// detectionRows maps detections to column values in table order.
func detectionRows(runID string, flows []model.FlowDetections) ([][]any, error) {
	var rows [][]any
	for _, f := range flows {
		ts := f.Flow.Ts
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		for _, d := range f.Detections {
			explain, err := json.Marshal(d.Explain)
			if err != nil {
				return nil, fmt.Errorf("failed to encode explain for row %d: %w", d.RowID, err)
			}
			rows = append(rows, []any{
				runID,
				ts,
				d.RowID,
				f.Flow.SrcIP,
				f.Flow.DstIP,
				int32(f.Flow.DstPort),
				f.Flow.Proto,
				d.Reason,
				d.ClassGuess,
				d.Score,
				string(explain),
			})
		}
	}
	return rows, nil
}
