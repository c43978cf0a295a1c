package repository

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/doukyrie/AquaRegulator-server/internal/domain"
	"github.com/doukyrie/AquaRegulator-server/internal/ports"
)

const healthComponent = "telemetry_repo"

type Config struct {
	Host        string `json:"host"`
	User        string `json:"user"`
	Password    string `json:"password"`
	Schema      string `json:"schema"`
	Port        int    `json:"port"`
	RecentLimit int    `json:"recentLimit"`
	RetrySecs   int    `json:"retrySeconds"`
}

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.User == "" {
		c.User = "postgres"
	}
	if c.Schema == "" {
		c.Schema = "telemetry"
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 50
	}
	if c.RetrySecs <= 0 {
		c.RetrySecs = 5
	}
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Schema)
}

// TelemetryRepository serves the two fixed historical queries. Before each
// query the connection is health-probed and re-established when the probe
// fails; a failed re-establishment yields an empty result.
type TelemetryRepository struct {
	mu     sync.Mutex
	cfg    Config
	db     *sql.DB
	health ports.Health

	open func(cfg Config) (*sql.DB, error)
}

func NewTelemetryRepository(cfg Config, health ports.Health) *TelemetryRepository {
	cfg.ApplyDefaults()
	return &TelemetryRepository{
		cfg:    cfg,
		health: health,
		open:   openPostgres,
	}
}

func openPostgres(cfg Config) (*sql.DB, error) {
	return sql.Open("postgres", cfg.dsn())
}

// Initialize opens the initial connection. A failure here is fatal to the
// process per the startup contract.
func (r *TelemetryRepository) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, err := r.open(r.cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("database ping: %w", err)
	}
	r.db = db
	r.health.Update(healthComponent, true, "Database connected")
	return nil
}

func (r *TelemetryRepository) LoadEnvironmental(limit int) []domain.Reading {
	return r.load(
		"SELECT time, temperature, humidity, light FROM environmental_conditions ORDER BY time DESC LIMIT $1",
		limit,
		func(rows *sql.Rows) (domain.Reading, error) {
			var (
				ts                           sql.NullString
				temperature, humidity, light sql.NullFloat64
			)
			if err := rows.Scan(&ts, &temperature, &humidity, &light); err != nil {
				return domain.Reading{}, err
			}
			return domain.Reading{
				Label:       "Historical_ENV",
				Timestamp:   textOrNA(ts),
				Temperature: temperature.Float64,
				Humidity:    humidity.Float64,
				Light:       light.Float64,
			}, nil
		},
	)
}

func (r *TelemetryRepository) LoadSoilAndAir(limit int) []domain.Reading {
	return r.load(
		"SELECT time, soil, gas, raindrop FROM soil_and_air_quality ORDER BY time DESC LIMIT $1",
		limit,
		func(rows *sql.Rows) (domain.Reading, error) {
			var (
				ts                  sql.NullString
				soil, gas, raindrop sql.NullFloat64
			)
			if err := rows.Scan(&ts, &soil, &gas, &raindrop); err != nil {
				return domain.Reading{}, err
			}
			return domain.Reading{
				Label:     "Historical_Soil",
				Timestamp: textOrNA(ts),
				Soil:      soil.Float64,
				Gas:       gas.Float64,
				Raindrop:  raindrop.Float64,
			}, nil
		},
	)
}

func (r *TelemetryRepository) load(query string, limit int, scan func(*sql.Rows) (domain.Reading, error)) []domain.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.refreshConnectionLocked() {
		return nil
	}

	rows, err := r.db.Query(query, limit)
	if err != nil {
		r.fail(fmt.Sprintf("query failed: %v", err))
		return nil
	}
	defer rows.Close()

	var readings []domain.Reading
	for rows.Next() {
		reading, err := scan(rows)
		if err != nil {
			r.fail(fmt.Sprintf("row scan failed: %v", err))
			return nil
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		r.fail(fmt.Sprintf("row iteration failed: %v", err))
		return nil
	}

	// Rows arrive newest-first; callers expect ascending time order.
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings
}

// refreshConnectionLocked tears down and re-establishes the connection when
// it is absent or the health probe fails.
func (r *TelemetryRepository) refreshConnectionLocked() bool {
	if r.db != nil {
		if err := r.db.Ping(); err == nil {
			return true
		}
		log.Printf("telemetry_repo: refreshing database connection")
		r.db.Close()
		r.db = nil
	}

	db, err := r.open(r.cfg)
	if err != nil {
		r.fail(fmt.Sprintf("reconnect failed: %v", err))
		return false
	}
	if err := db.Ping(); err != nil {
		db.Close()
		r.fail(fmt.Sprintf("reconnect ping failed: %v", err))
		return false
	}
	r.db = db
	r.health.Update(healthComponent, true, "Database connection refreshed")
	return true
}

func (r *TelemetryRepository) fail(reason string) {
	log.Printf("telemetry_repo: %s", reason)
	r.health.Update(healthComponent, false, reason)
}

func (r *TelemetryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func textOrNA(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return "N/A"
}

var _ ports.Repository = (*TelemetryRepository)(nil)
