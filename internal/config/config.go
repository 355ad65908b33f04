// Package config loads the service configuration from a YAML file,
// applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"minibus/internal/matrix"
	"minibus/internal/opt"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	OSRM      OSRMConfig      `yaml:"osrm"`
	Cache     CacheConfig     `yaml:"cache"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Depot     DepotConfig     `yaml:"depot"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Weights   WeightsConfig   `yaml:"weights"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DatabaseConfig selects the Postgres store; an empty URL keeps data in memory.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig enables cross-instance progress events when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type OSRMConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"baseUrl" validate:"omitempty,url"`
	Profile           string        `yaml:"profile" validate:"omitempty,alpha"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxCoordinates    int           `yaml:"maxCoordinates" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Attempts          int           `yaml:"attempts" validate:"gte=0,lte=10"`
}

// CacheConfig points at the SQLite matrix cache; an empty path disables it.
type CacheConfig struct {
	Path string `yaml:"path"`
}

type FallbackConfig struct {
	Enabled  bool    `yaml:"enabled"`
	SpeedKph float64 `yaml:"speedKph" validate:"gt=0"`
	Detour   float64 `yaml:"detour" validate:"gte=1"`
}

// DepotConfig names the default depot; requests may override it. Zero
// means every request must name one.
type DepotConfig struct {
	StationID int64 `yaml:"stationId" validate:"gte=0"`
}

type OptimizerConfig struct {
	PopulationSize  int           `yaml:"populationSize" validate:"min=1,max=10000"`
	MaxGenerations  int           `yaml:"maxGenerations" validate:"min=1"`
	CrossoverRate   float64       `yaml:"crossoverRate" validate:"gte=0,lte=1"`
	MutationRate    float64       `yaml:"mutationRate" validate:"gte=0,lte=1"`
	ElitismRate     float64       `yaml:"elitismRate" validate:"gte=0,lte=1"`
	TournamentSize  int           `yaml:"tournamentSize" validate:"min=1"`
	StagnationLimit int           `yaml:"stagnationLimit" validate:"gte=0"`
	Seed            int64         `yaml:"seed"`
	TimeBudget      time.Duration `yaml:"timeBudget" validate:"gte=0"`
	Workers         int           `yaml:"workers" validate:"gte=0"`
}

type WeightsConfig struct {
	Capacity             float64 `yaml:"capacity" validate:"gte=0"`
	Ordering             float64 `yaml:"ordering" validate:"gte=0"`
	Unserved             float64 `yaml:"unserved" validate:"gte=0"`
	LatenessPerMin       float64 `yaml:"latenessPerMin" validate:"gte=0"`
	Consolidation        float64 `yaml:"consolidation" validate:"gte=0"`
	LatenessToleranceMin float64 `yaml:"latenessToleranceMin" validate:"gte=0"`
	DwellMin             float64 `yaml:"dwellMin" validate:"gte=0"`
	DepartureLeadMin     float64 `yaml:"departureLeadMin" validate:"gte=0"`
	DropoffBias          float64 `yaml:"dropoffBias" validate:"gt=0,lte=1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := opt.DefaultParams()
	e := opt.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Migrate: true},
		OSRM: OSRMConfig{
			Enabled:        true,
			BaseURL:        "http://localhost:5000",
			Profile:        "driving",
			Timeout:        30 * time.Second,
			MaxCoordinates: 80,
			Attempts:       4,
		},
		Fallback: FallbackConfig{Enabled: true, SpeedKph: 30, Detour: 1},
		Optimizer: OptimizerConfig{
			PopulationSize:  p.PopulationSize,
			MaxGenerations:  p.MaxGenerations,
			CrossoverRate:   p.CrossoverRate,
			MutationRate:    p.MutationRate,
			ElitismRate:     p.ElitismRate,
			TournamentSize:  p.TournamentSize,
			StagnationLimit: p.StagnationLimit,
			TimeBudget:      p.TimeBudget,
		},
		Weights: WeightsConfig{
			Capacity:             e.Weights.Capacity,
			Ordering:             e.Weights.Ordering,
			Unserved:             e.Weights.Unserved,
			LatenessPerMin:       e.Weights.LatenessPerMin,
			Consolidation:        e.Weights.Consolidation,
			LatenessToleranceMin: e.LatenessToleranceMin,
			DwellMin:             e.DwellMin,
			DepartureLeadMin:     e.DepartureLeadMin,
			DropoffBias:          e.DropoffBias,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("OSRM_BASE_URL", &c.OSRM.BaseURL)
	str("OSRM_PROFILE", &c.OSRM.Profile)
	str("MATRIX_CACHE_PATH", &c.Cache.Path)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DEPOT_STATION_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DEPOT_STATION_ID: %w", err)
		}
		c.Depot.StationID = id
	}
	if v, ok := lookup("OSRM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OSRM_TIMEOUT: %w", err)
		}
		c.OSRM.Timeout = d
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.OSRM.Enabled && c.OSRM.BaseURL == "" {
		return errors.New("invalid config: osrm.baseUrl is required when osrm is enabled")
	}
	if c.Optimizer.TimeBudget <= 0 {
		return errors.New("invalid config: optimizer.timeBudget must be positive")
	}
	if wt := c.Server.WriteTimeout; wt > 0 && c.Optimizer.TimeBudget >= wt {
		return fmt.Errorf("invalid config: optimizer.timeBudget %s must be below server.writeTimeout %s", c.Optimizer.TimeBudget, wt)
	}
	if !c.OSRM.Enabled && !c.Fallback.Enabled {
		return errors.New("invalid config: at least one of osrm and fallback must be enabled")
	}
	return nil
}

func (c *Config) Addr() string { return ":" + strconv.Itoa(c.Server.Port) }

func (c *Config) SearchParams() opt.Params {
	o := c.Optimizer
	return opt.Params{
		PopulationSize:  o.PopulationSize,
		MaxGenerations:  o.MaxGenerations,
		CrossoverRate:   o.CrossoverRate,
		MutationRate:    o.MutationRate,
		ElitismRate:     o.ElitismRate,
		TournamentSize:  o.TournamentSize,
		StagnationLimit: o.StagnationLimit,
		Seed:            o.Seed,
		TimeBudget:      o.TimeBudget,
		Workers:         o.Workers,
	}
}

func (c *Config) EngineConfig() opt.Config {
	w := c.Weights
	return opt.Config{
		Weights: opt.Weights{
			Capacity:       w.Capacity,
			Ordering:       w.Ordering,
			Unserved:       w.Unserved,
			LatenessPerMin: w.LatenessPerMin,
			Consolidation:  w.Consolidation,
		},
		DwellMin:             w.DwellMin,
		LatenessToleranceMin: w.LatenessToleranceMin,
		DepartureLeadMin:     w.DepartureLeadMin,
		DropoffBias:          w.DropoffBias,
	}
}

func (c *Config) OSRMClient() matrix.OSRMConfig {
	return matrix.OSRMConfig{
		BaseURL:           c.OSRM.BaseURL,
		Profile:           c.OSRM.Profile,
		Timeout:           c.OSRM.Timeout,
		MaxCoordinates:    c.OSRM.MaxCoordinates,
		RequestsPerSecond: c.OSRM.RequestsPerSecond,
		Burst:             c.OSRM.Burst,
		Attempts:          c.OSRM.Attempts,
	}
}

// Summary is a secret-free view for the debug endpoint.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"port":           c.Server.Port,
		"logLevel":       c.Log.Level,
		"hasDatabaseUrl": c.Database.URL != "",
		"hasRedisUrl":    c.Redis.URL != "",
		"osrmEnabled":    c.OSRM.Enabled,
		"osrmBaseUrl":    c.OSRM.BaseURL,
		"matrixCache":    c.Cache.Path != "",
		"fallback":       c.Fallback.Enabled,
		"depotStationId": c.Depot.StationID,
	}
}
