package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after applying defaults, the config file,
environment variables and flags.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

// ConfigResponse is the response for the config command.
type ConfigResponse struct {
	ConfigFile      string `json:"config_file,omitempty"`
	TargetDOI       string `json:"target_doi"`
	Mailto          string `json:"mailto,omitempty"`
	UserAgent       string `json:"user_agent"`
	BaseURL         string `json:"api_base_url"`
	PerPage         int    `json:"api_per_page"`
	RequestInterval string `json:"api_request_interval"`
	MaxRetries      int    `json:"api_max_retries"`
	RetryBaseDelay  string `json:"api_retry_base_delay"`
	Timeout         string `json:"api_timeout"`
	DataDir         string `json:"data_dir"`
	OverridesPath   string `json:"overrides_path"`
	TagRulesPath    string `json:"tag_rules_path"`
	TopAuthors      int    `json:"top_authors"`
	Workers         int    `json:"workers"`
	MetricsFile     string `json:"metrics_file,omitempty"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	resp := ConfigResponse{
		ConfigFile:      v.ConfigFileUsed(),
		TargetDOI:       cfg.TargetDOI,
		Mailto:          cfg.Mailto,
		UserAgent:       cfg.UserAgent,
		BaseURL:         cfg.API.BaseURL,
		PerPage:         cfg.API.PerPage,
		RequestInterval: cfg.API.RequestInterval.String(),
		MaxRetries:      cfg.API.MaxRetries,
		RetryBaseDelay:  cfg.API.RetryBaseDelay.String(),
		Timeout:         cfg.API.Timeout.String(),
		DataDir:         cfg.DataDir,
		OverridesPath:   cfg.OverridesPath,
		TagRulesPath:    cfg.TagRulesPath,
		TopAuthors:      cfg.TopAuthors,
		Workers:         cfg.Workers,
		MetricsFile:     cfg.MetricsFile,
		LogLevel:        cfg.Logging.Level,
		LogFormat:       cfg.Logging.Format,
	}

	if !humanOutput {
		return outputJSON(resp)
	}

	if resp.ConfigFile != "" {
		outputHuman("config file:          %s\n", resp.ConfigFile)
	}
	outputHuman("target_doi:           %s\n", resp.TargetDOI)
	outputHuman("mailto:               %s\n", resp.Mailto)
	outputHuman("user_agent:           %s\n", resp.UserAgent)
	outputHuman("api.base_url:         %s\n", resp.BaseURL)
	outputHuman("api.per_page:         %d\n", resp.PerPage)
	outputHuman("api.request_interval: %s\n", resp.RequestInterval)
	outputHuman("api.max_retries:      %d\n", resp.MaxRetries)
	outputHuman("api.retry_base_delay: %s\n", resp.RetryBaseDelay)
	outputHuman("api.timeout:          %s\n", resp.Timeout)
	outputHuman("data_dir:             %s\n", resp.DataDir)
	outputHuman("overrides_path:       %s\n", resp.OverridesPath)
	outputHuman("tag_rules_path:       %s\n", resp.TagRulesPath)
	outputHuman("top_authors:          %d\n", resp.TopAuthors)
	outputHuman("workers:              %d\n", resp.Workers)
	outputHuman("metrics_file:         %s\n", resp.MetricsFile)
	outputHuman("logging:              %s (%s)\n", resp.LogLevel, resp.LogFormat)
	return nil
}
