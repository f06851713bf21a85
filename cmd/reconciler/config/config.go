package config

import (
	"fmt"
	"strings"

	"invoice-reconciliation-service/internal/catalog"
	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/pdftext"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/reporter"
	"invoice-reconciliation-service/internal/rules"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Matching profiles accepted by CreateMatchingConfig
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// CreateLoggerConfig creates the root logger configuration. A log file switches
// the output to that file; verbose forces debug level.
func CreateLoggerConfig(level, format, file string, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()

	if level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	if file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", config, err).
			WithSuggestion("valid levels are debug, info, warn, error; valid formats are text, json")
	}
	return config, nil
}

// CreateParserConfig creates the parser configuration, applying the optional
// "parser" section of the config file over the defaults.
func CreateParserConfig(v *viper.Viper) (*parsers.Config, error) {
	config := parsers.DefaultConfig()
	if err := unmarshalSection(v, "parser", config); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateExtractorConfig creates the PDF extraction configuration. Workers
// follows the run's worker count unless the "pdf" section sets it.
func CreateExtractorConfig(v *viper.Viper, workers int) (*pdftext.Config, error) {
	config := pdftext.DefaultConfig()
	if workers > 0 {
		config.Workers = workers
	}
	if err := unmarshalSection(v, "pdf", config); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateMatchingConfig creates a matching configuration from a named profile.
// A positive threshold overrides the profile's confidence threshold.
func CreateMatchingConfig(profile string, threshold float64) (*matcher.MatchingConfig, error) {
	var config *matcher.MatchingConfig
	switch strings.ToLower(profile) {
	case "", ProfileDefault:
		config = matcher.DefaultMatchingConfig()
	case ProfileStrict:
		config = matcher.StrictMatchingConfig()
	case ProfileRelaxed:
		config = matcher.RelaxedMatchingConfig()
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "match-profile", profile, nil).
			WithSuggestion("use one of: default, strict, relaxed")
	}

	if threshold > 0 {
		config.ConfidenceThreshold = threshold
	}
	return config, nil
}

// CreateRulesConfig creates the price rule configuration. Empty factors keep
// the contract defaults.
func CreateRulesConfig(discountFactor, markupFactor string) (*rules.Config, error) {
	config := rules.DefaultConfig()

	if discountFactor != "" {
		d, err := decimal.NewFromString(discountFactor)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "discount-factor", discountFactor, err)
		}
		config.DiscountFactor = d
	}
	if markupFactor != "" {
		m, err := decimal.NewFromString(markupFactor)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "markup-factor", markupFactor, err)
		}
		config.MarkupFactor = m
	}
	return config, nil
}

// CreateReconcilerConfig creates a run configuration. Without a store there is
// nothing to persist, so history and unmatched tracking are switched off.
func CreateReconcilerConfig(workers int, withStore, saveHistory bool) *reconciler.Config {
	config := reconciler.DefaultConfig()

	if workers > 0 {
		config.Workers = workers
	}
	config.SaveHistory = withStore && saveHistory
	config.PersistUnmatched = withStore

	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, useColors bool) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))

	switch config.Format {
	case reporter.FormatConsole:
		config.UseColors = useColors
	case reporter.FormatJSON:
		config.UseColors = false
	case reporter.FormatCSV, reporter.FormatXLSX:
		config.UseColors = false
		config.IncludeParseStats = false
		config.IncludeUnmatched = false
	}

	return config
}

// CatalogFiles names the reference files of one run.
type CatalogFiles struct {
	ListA         string
	ListB         string
	SpecialLimits string
	Mappings      string
	StockMappings string
	Approvals     string
	Sheet         string
	Delimiter     string
}

// CreateCatalogConfig creates the file-backed catalog configuration
func CreateCatalogConfig(files CatalogFiles) *catalog.Config {
	config := catalog.DefaultConfig()
	config.ListA = files.ListA
	config.ListB = files.ListB
	config.SpecialLimits = files.SpecialLimits
	config.Mappings = files.Mappings
	config.StockMappings = files.StockMappings
	config.Approvals = files.Approvals
	config.Sheet = files.Sheet
	if files.Delimiter != "" {
		config.Delimiter = files.Delimiter
	}
	return config
}

// ValidateConfig validates that all required configurations are valid
func ValidateConfig(
	parserConfig *parsers.Config,
	matchingConfig *matcher.MatchingConfig,
	rulesConfig *rules.Config,
	reconcilerConfig *reconciler.Config,
	catalogConfig *catalog.Config,
) error {
	checks := []struct {
		setting string
		value   interface{}
		err     error
	}{
		{"parser", parserConfig, parserConfig.Validate()},
		{"matching", matchingConfig, matchingConfig.Validate()},
		{"rules", rulesConfig, rulesConfig.Validate()},
		{"reconciler", reconcilerConfig, reconcilerConfig.Validate()},
		{"catalog", catalogConfig, catalogConfig.Validate()},
	}
	for _, c := range checks {
		if c.err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, c.setting, c.value, c.err)
		}
	}
	return nil
}

func unmarshalSection(v *viper.Viper, key string, out interface{}) error {
	if v == nil || !v.IsSet(key) {
		return nil
	}
	if err := v.UnmarshalKey(key, out); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, key, nil, err).
			WithSuggestion(fmt.Sprintf("check the %q section of the config file", key))
	}
	return nil
}
