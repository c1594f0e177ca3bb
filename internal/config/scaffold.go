package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// scaffold mirrors the config file layout with yaml tags, used only when
// writing a starter config.
type scaffold struct {
	Organization string            `yaml:"organization"`
	Projects     []scaffoldProject `yaml:"projects"`
	Service      map[string]int    `yaml:"service"`
	API          map[string]int    `yaml:"api"`
	Output       map[string]string `yaml:"output"`
	Database     map[string]any    `yaml:"database"`
	HTTP         map[string]string `yaml:"http"`
	Logging      map[string]string `yaml:"logging"`
}

type scaffoldProject struct {
	Name         string   `yaml:"name"`
	Repositories []string `yaml:"repositories"`
}

// WriteDefault writes a starter config.yaml to path. It refuses to overwrite
// an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	d := DefaultConfig()
	s := scaffold{
		Organization: "my-organization",
		Projects: []scaffoldProject{
			{Name: "MyProject", Repositories: []string{"my-repo"}},
		},
		Service: map[string]int{
			"poll_interval_seconds": d.Service.PollIntervalSeconds,
			"stale_timeout_seconds": d.Service.StaleTimeoutSeconds,
		},
		API: map[string]int{
			"timeout_seconds":         d.API.TimeoutSeconds,
			"max_retries":             d.API.MaxRetries,
			"rate_limit_delay_ms":     d.API.RateLimitDelayMillis,
			"max_concurrent_requests": d.API.MaxConcurrentRequests,
		},
		Output: map[string]string{
			"directory":       d.Output.Directory,
			"filename_prefix": d.Output.FilenamePrefix,
		},
		Database: map[string]any{
			"path":         d.Database.Path,
			"cleanup_days": d.Database.CleanupDays,
		},
		HTTP:    map[string]string{"listen_addr": d.HTTP.ListenAddr},
		Logging: map[string]string{"format": d.Logging.Format, "level": d.Logging.Level},
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	header := []byte("# repometrics configuration.\n# Credentials come from the environment or .env:\n#   AZURE_DEVOPS_PAT, AZURE_DEVOPS_ORG_URL\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
