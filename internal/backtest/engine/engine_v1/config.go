package engine

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/addposition"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/commission"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/sizer"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/stop"
	"github.com/quantbeam/leverbt/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ExecutionConfig is the full parameter set of one backtest run.
type ExecutionConfig struct {
	InitialCash float64 `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Starting cash balance,minimum=0" validate:"gte=0"`
	// Leverage is the default applied to orders without their own.
	Leverage float64 `yaml:"leverage" json:"leverage" jsonschema:"title=Leverage,description=Default order leverage,minimum=1,maximum=100" validate:"gte=1,lte=100"`
	// FeeRate is the commission fraction of notional for the rate model
	// (0.0004 = 4 bps). It also feeds the sizer so sized orders survive
	// their own fee.
	FeeRate float64 `yaml:"fee_rate" json:"fee_rate" jsonschema:"title=Fee Rate,minimum=0" validate:"gte=0"`
	// SlippageRate moves every fill against the order.
	SlippageRate          float64 `yaml:"slippage_rate" json:"slippage_rate" jsonschema:"title=Slippage Rate,minimum=0" validate:"gte=0"`
	MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate" json:"maintenance_margin_rate" jsonschema:"title=Maintenance Margin Rate,minimum=0" validate:"gte=0"`

	CommissionModel commission.Model `yaml:"commission_model" json:"commission_model" jsonschema:"title=Commission Model" validate:"omitempty,oneof=rate zero"`

	// StopLossPct is the fixed fractional stop used when no stop manager
	// is configured and the strategy suggests nothing.
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" jsonschema:"title=Stop Loss Pct,minimum=0" validate:"gte=0"`
	// TakeProfitPct closes the position at entry*(1±pct). None disables
	// take-profit entirely.
	TakeProfitPct optional.Option[float64] `yaml:"take_profit_pct" json:"take_profit_pct" jsonschema:"title=Take Profit Pct"`

	Stop        stop.Config        `yaml:"stop" json:"stop"`
	AddPosition addposition.Config `yaml:"add_position" json:"add_position"`
	Sizer       sizer.Config       `yaml:"sizer" json:"sizer"`
}

// UnmarshalYAML implements custom unmarshaling so optional fields can be
// expressed as plain nullable YAML scalars.
func (c *ExecutionConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		InitialCash           float64            `yaml:"initial_cash"`
		Leverage              float64            `yaml:"leverage"`
		FeeRate               float64            `yaml:"fee_rate"`
		SlippageRate          float64            `yaml:"slippage_rate"`
		MaintenanceMarginRate float64            `yaml:"maintenance_margin_rate"`
		CommissionModel       commission.Model   `yaml:"commission_model"`
		StopLossPct           float64            `yaml:"stop_loss_pct"`
		TakeProfitPct         *float64           `yaml:"take_profit_pct"`
		Stop                  stop.Config        `yaml:"stop"`
		AddPosition           addposition.Config `yaml:"add_position"`
		Sizer                 sizer.Config       `yaml:"sizer"`
	}

	// Seed from the receiver so fields absent from the document keep
	// whatever was already set (the defaults, usually).
	cfg := plain{
		InitialCash:           c.InitialCash,
		Leverage:              c.Leverage,
		FeeRate:               c.FeeRate,
		SlippageRate:          c.SlippageRate,
		MaintenanceMarginRate: c.MaintenanceMarginRate,
		CommissionModel:       c.CommissionModel,
		StopLossPct:           c.StopLossPct,
		Stop:                  c.Stop,
		AddPosition:           c.AddPosition,
		Sizer:                 c.Sizer,
	}
	if c.TakeProfitPct.IsSome() {
		v := c.TakeProfitPct.Unwrap()
		cfg.TakeProfitPct = &v
	}

	if err := value.Decode(&cfg); err != nil {
		return err
	}

	c.InitialCash = cfg.InitialCash
	c.Leverage = cfg.Leverage
	c.FeeRate = cfg.FeeRate
	c.SlippageRate = cfg.SlippageRate
	c.MaintenanceMarginRate = cfg.MaintenanceMarginRate
	c.CommissionModel = cfg.CommissionModel
	c.StopLossPct = cfg.StopLossPct
	c.Stop = cfg.Stop
	c.AddPosition = cfg.AddPosition
	c.Sizer = cfg.Sizer

	if cfg.TakeProfitPct != nil {
		c.TakeProfitPct = optional.Some(*cfg.TakeProfitPct)
	} else {
		c.TakeProfitPct = optional.None[float64]()
	}

	return nil
}

// DefaultConfig returns a frictionless unleveraged configuration that is
// safe to run as-is.
func DefaultConfig() ExecutionConfig {
	return ExecutionConfig{
		InitialCash:           10000,
		Leverage:              1,
		FeeRate:               0,
		SlippageRate:          0,
		MaintenanceMarginRate: 0.005,
		CommissionModel:       commission.ModelZero,
		StopLossPct:           0.05,
		TakeProfitPct:         optional.None[float64](),
	}
}

// LoadConfig parses a YAML document into a config and validates it.
// Fields absent from the document keep the defaults.
func LoadConfig(data []byte) (ExecutionConfig, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ExecutionConfig{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return ExecutionConfig{}, err
	}

	return cfg, nil
}

// Validate checks the struct-level constraints. Cross-field rules beyond
// the tags live here.
func (c *ExecutionConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.CommissionModel == commission.ModelRate && c.FeeRate <= 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "rate commission model requires a positive fee_rate")
	}

	return nil
}

// GenerateSchema reflects the config into a JSON schema for editor
// completion of config files.
func (c *ExecutionConfig) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[float64]" {
				return &jsonschema.Schema{Type: "number"}
			}
			if strings.Contains(t.String(), "commission.Model") {
				return &jsonschema.Schema{Type: "string", Enum: commission.AllModels}
			}
			if strings.Contains(t.String(), "stop.Mode") {
				return &jsonschema.Schema{Type: "string", Enum: stop.AllModes}
			}
			if strings.Contains(t.String(), "sizer.Mode") {
				return &jsonschema.Schema{Type: "string", Enum: sizer.AllModes}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "execution-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the schema as indented JSON.
func (c *ExecutionConfig) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnknown, "failed to marshal schema", err)
	}

	return string(schemaBytes), nil
}
