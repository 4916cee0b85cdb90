// Package database persists measurement results to Postgres for long-term
// history, alongside the local JSON result log.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"broadband-tester/pkg/models"
)

type DB struct {
	*bun.DB
}

// resultRow is the storage shape of one measurement result. Latency and
// throughput sub-records are flattened for querying; the full record is
// kept verbatim as jsonb.
type resultRow struct {
	bun.BaseModel `bun:"table:measurement_results,alias:r"`

	ID            string    `bun:",pk"`
	Time          time.Time `bun:",notnull"`
	ServerHost    string    `bun:",notnull"`
	ServerName    string
	ServerCountry string
	DistanceKM    float64
	LatencyAvgMs  float64
	JitterMs      float64
	LossRatio     float64
	DownloadMbps  float64
	UploadMbps    float64
	ClientIP      string
	ClientISP     string
	ClientCountry string
	FullReport    json.RawMessage `bun:",type:jsonb"`
	CreatedAt     time.Time       `bun:",nullzero,notnull,default:current_timestamp"`
}

func NewDB() (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the results table if it doesn't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*resultRow)(nil)).
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	return nil
}

// InsertResult stores one completed run.
func (db *DB) InsertResult(ctx context.Context, result *models.MeasurementResult) error {
	full, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error encoding result: %v", err)
	}

	row := &resultRow{
		ID:            result.ID,
		Time:          result.Timestamp,
		ServerHost:    result.Server.Host,
		ServerName:    result.Server.Name,
		ServerCountry: result.Server.Country,
		DistanceKM:    result.Server.DistanceKM,
		LatencyAvgMs:  result.Latency.AvgMs,
		JitterMs:      result.Latency.JitterMs,
		LossRatio:     result.Latency.LossRatio,
		DownloadMbps:  result.Download.Mbps,
		UploadMbps:    result.Upload.Mbps,
		ClientIP:      result.Client.IP,
		ClientISP:     result.Client.ISP,
		ClientCountry: result.Client.Country,
		FullReport:    full,
	}

	_, err = db.NewInsert().
		Model(row).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error inserting result: %v", err)
	}

	return nil
}

// RecentResults returns the newest stored runs, most recent first.
func (db *DB) RecentResults(ctx context.Context, limit int) ([]models.MeasurementResult, error) {
	var rows []resultRow
	err := db.NewSelect().
		Model(&rows).
		Order("time DESC").
		Limit(limit).
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error getting recent results: %v", err)
	}

	results := make([]models.MeasurementResult, 0, len(rows))
	for _, row := range rows {
		var result models.MeasurementResult
		if err := json.Unmarshal(row.FullReport, &result); err != nil {
			return nil, fmt.Errorf("error decoding stored result %s: %v", row.ID, err)
		}
		results = append(results, result)
	}

	return results, nil
}
