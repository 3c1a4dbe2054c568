// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"bentokaze/internal/milp"
	"bentokaze/internal/models"
)

const EnvPrefix = "BENTOKAZE"

type Config struct {
	Database  DatabaseConfig     `mapstructure:"database"`
	DataPath  string             `mapstructure:"data_path"`
	DataFiles DataFilesConfig    `mapstructure:"data_files"`
	Nutrition map[string]float64 `mapstructure:"nutrition" validate:"dive,gte=0"`
	Optimizer OptimizerSettings  `mapstructure:"optimizer"`
	Solver    SolverConfig       `mapstructure:"solver"`
	Export    ExportConfig       `mapstructure:"export"`
	Log       LogConfig          `mapstructure:"log"`
	Server    ServerConfig       `mapstructure:"server"`
}

type DatabaseConfig struct {
	File string `mapstructure:"file" validate:"required"`
}

type DataFilesConfig struct {
	Categories string `mapstructure:"categories" validate:"required"`
	Items      string `mapstructure:"items" validate:"required"`
	Nutrition  string `mapstructure:"nutrition" validate:"required"`
	Prices     string `mapstructure:"prices" validate:"required"`
}

type OptimizerSettings struct {
	MaxVolume          float64 `mapstructure:"max_volume" validate:"gt=0"`
	MinMassPerCategory float64 `mapstructure:"min_mass_per_category" validate:"gte=0"`
	PortionSize        float64 `mapstructure:"portion_size" validate:"gt=0"`
	PortionUnit        string  `mapstructure:"portion_unit" validate:"required"`
	BigM               float64 `mapstructure:"big_m" validate:"gte=0"`
	// Constraints maps a nutrient to its direction, e.g. "protein: >=".
	Constraints map[string]string `mapstructure:"constraints"`
}

type SolverConfig struct {
	Engine  string        `mapstructure:"engine" validate:"oneof=simplex cbc"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	CBCPath string        `mapstructure:"cbc_path"`
	LogDir  string        `mapstructure:"log_dir"`
}

type ExportConfig struct {
	Filename       string   `mapstructure:"filename" validate:"required"`
	Formats        []string `mapstructure:"formats" validate:"dive,oneof=lp mps mps-free json"`
	OutputDir      string   `mapstructure:"output_dir" validate:"required"`
	ReportFilename string   `mapstructure:"report_filename" validate:"required"`
	ReportFormat   string   `mapstructure:"report_format" validate:"oneof=markdown yaml"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.file", "bento.db")
	v.SetDefault("data_path", "data")
	v.SetDefault("data_files.categories", "food_density.csv")
	v.SetDefault("data_files.items", "items.csv")
	v.SetDefault("data_files.nutrition", "nutrition.csv")
	v.SetDefault("data_files.prices", "price.csv")

	v.SetDefault("optimizer.max_volume", 1000)
	v.SetDefault("optimizer.min_mass_per_category", 0)
	v.SetDefault("optimizer.portion_size", models.DefaultPortionSize)
	v.SetDefault("optimizer.portion_unit", models.DefaultPortionUnit)
	v.SetDefault("optimizer.big_m", 0)

	v.SetDefault("solver.engine", "simplex")
	v.SetDefault("solver.timeout", "30s")
	v.SetDefault("solver.cbc_path", "cbc")
	v.SetDefault("solver.log_dir", "logs")

	v.SetDefault("export.filename", "model")
	v.SetDefault("export.formats", []string{"lp", "mps"})
	v.SetDefault("export.output_dir", "models")
	v.SetDefault("export.report_filename", "report.md")
	v.SetDefault("export.report_format", "markdown")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8011)
}

// Load reads the YAML file at path, if any, over the defaults. Environment
// variables such as BENTOKAZE_SOLVER_ENGINE take precedence over both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and the nutrient tables. Failures are
// reported as *milp.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	for name := range c.Nutrition {
		if _, ok := models.ParseNutrient(name); !ok {
			return &milp.ConfigurationError{Field: "nutrition." + name, Reason: "unknown nutrient"}
		}
	}
	for name, dir := range c.Optimizer.Constraints {
		if _, ok := models.ParseNutrient(name); !ok {
			return &milp.ConfigurationError{Field: "optimizer.constraints." + name, Reason: "unknown nutrient"}
		}
		if _, ok := models.ParseDirection(dir); !ok {
			return &milp.ConfigurationError{
				Field:  "optimizer.constraints." + name,
				Reason: fmt.Sprintf("unrecognized direction %q", dir),
			}
		}
	}
	return nil
}

func fieldError(e validator.FieldError) error {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	var reason string
	switch e.Tag() {
	case "required":
		reason = "is required"
	case "gt":
		reason = fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		reason = fmt.Sprintf("must be at least %s", e.Param())
	case "min", "max":
		reason = fmt.Sprintf("out of range (%s %s)", e.Tag(), e.Param())
	case "oneof":
		reason = fmt.Sprintf("must be one of: %s", e.Param())
	default:
		reason = "is invalid"
	}
	return &milp.ConfigurationError{Field: field, Reason: reason}
}

// OptimizerConfig maps the file settings onto the builder input. Targets are
// emitted in the builder's nutrient order; a nutrient without an explicit
// direction gets its conventional one.
func (c *Config) OptimizerConfig() models.OptimizerConfig {
	out := models.OptimizerConfig{
		MaxVolume:          c.Optimizer.MaxVolume,
		MinMassPerCategory: c.Optimizer.MinMassPerCategory,
		PortionSize:        c.Optimizer.PortionSize,
		PortionUnit:        c.Optimizer.PortionUnit,
		BigM:               c.Optimizer.BigM,
	}

	directions := make(map[models.Nutrient]string, len(c.Optimizer.Constraints))
	for name, dir := range c.Optimizer.Constraints {
		if n, ok := models.ParseNutrient(name); ok {
			directions[n] = dir
		}
	}

	bounds := make(map[models.Nutrient]float64, len(c.Nutrition))
	var unknown []string
	for name, bound := range c.Nutrition {
		n, ok := models.ParseNutrient(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		bounds[n] = bound
	}

	for _, n := range models.TrackedNutrients {
		bound, ok := bounds[n]
		if !ok {
			continue
		}
		dir := models.Direction(directions[n])
		if dir == "" {
			dir = models.DefaultDirection(n)
		}
		out.Targets = append(out.Targets, models.NutrientTarget{Nutrient: n, Bound: bound, Direction: dir})
	}
	// left for the builder to reject
	sort.Strings(unknown)
	for _, name := range unknown {
		out.Targets = append(out.Targets, models.NutrientTarget{Nutrient: models.Nutrient(name), Bound: c.Nutrition[name]})
	}
	return out
}

// DataFile resolves one of the configured CSV file names against data_path.
func (c *Config) DataFile(name string) string {
	return filepath.Join(c.DataPath, name)
}

func (c *Config) ReportPath() string {
	return filepath.Join(c.Export.OutputDir, c.Export.ReportFilename)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
