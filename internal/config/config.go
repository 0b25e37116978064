package config

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Output formats supported by the extract command
const (
	FormatParquet = "parquet"
	FormatPostGIS = "postgis"
	FormatGeoJSON = "geojson"
)

// defaultDenseMaxID covers every node ID currently allocated by OSM with headroom.
// The dense index is a sparse file, so only written pages use disk.
const defaultDenseMaxID = 16_000_000_000

// Config holds the global configuration for a boundary extraction run
type Config struct {
	// Input settings
	InputFile string

	// Output settings
	OutputDir  string
	Format     string // parquet, postgis or geojson
	Projection int    // Output SRID (4326 or 3857)

	// Database settings (postgis format and load command)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Boundary selection
	AdminLevels   []int  // admin_level values to accept
	AttemptRepair bool   // Close broken rings heuristically instead of dropping the relation
	RulesFile     string // Optional YAML tag rules applied after the admin checks
	TransformFile string // Optional Lua script run on accepted boundaries

	// Coordinate store
	WorkDir       string // Directory for the dense node index
	FlatNodesFile string // Keep the dense node index at this path
	DenseMaxID    int64  // Node IDs in [0, DenseMaxID) use the dense index

	// Processing settings
	Workers   int
	BatchSize int

	Debug bool

	// Logging and metrics
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with the extractor defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "./boundaries",
		Format:          FormatParquet,
		Projection:      4326,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		AdminLevels:     []int{2},
		AttemptRepair:   true,
		DenseMaxID:      defaultDenseMaxID,
		Workers:         runtime.NumCPU(),
		BatchSize:       10000,
		MetricsInterval: 30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	switch c.Format {
	case FormatParquet, FormatPostGIS, FormatGeoJSON:
	default:
		return fmt.Errorf("unknown output format %q (supported: parquet, postgis, geojson)", c.Format)
	}
	if len(c.AdminLevels) == 0 {
		return fmt.Errorf("at least one admin level is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.DenseMaxID < 0 {
		return fmt.Errorf("dense max id must not be negative")
	}
	return nil
}

// AdminLevelSet returns the configured admin levels as a lookup set
func (c *Config) AdminLevelSet() map[int]bool {
	set := make(map[int]bool, len(c.AdminLevels))
	for _, l := range c.AdminLevels {
		set[l] = true
	}
	return set
}

// ParseIntList parses a comma separated list such as "2,4,6".
// Empty items are ignored; the result is sorted and deduplicated.
func ParseIntList(s string) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list %q", s)
	}
	sort.Ints(out)
	return out, nil
}
