//go:build property
// +build property

package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestModeProperties checks mode selection and base path invariants.
func TestModeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("only the exact literal selects production", prop.ForAll(
		func(value string) bool {
			mode := ModeFromEnv(value)
			return mode.IsProduction() == (value == "production")
		},
		gen.OneGenOf(gen.AnyString(), gen.Const("production"), gen.Const("PRODUCTION")),
	))

	properties.Property("base path follows mode", prop.ForAll(
		func(dev, prod string, production bool) bool {
			cfg := Default()
			cfg.Base.Development = "/" + dev
			cfg.Base.Production = "/" + prod

			mode := ModeDevelopment
			if production {
				mode = ModeProduction
			}
			derived := cfg.WithMode(mode)

			if production {
				return derived.BasePath() == cfg.Base.Production && cfg.BasePath() == cfg.Base.Development
			}
			return derived.BasePath() == cfg.Base.Development
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.Property("valid ports always validate", prop.ForAll(
		func(port int) bool {
			cfg := Default()
			cfg.Server.Port = port
			return validateConfig(cfg) == nil
		},
		gen.IntRange(0, 65535),
	))

	properties.TestingRun(t)
}
