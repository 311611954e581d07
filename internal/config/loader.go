package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/courier/internal/templates"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or from a directory
// containing config.yaml. Included files and template files are merged in,
// defaults applied, checksums verified where a manifest exists, and the
// result validated.
func Load(configPath string) (*Config, error) {
	cfg, err := loadTree(configPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Files returns the absolute path of every file Load would read, root
// config first. It neither verifies checksums nor validates, so it works on
// a tree whose manifest is stale.
func Files(configPath string) ([]string, error) {
	cfg, err := loadTree(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

// ResolvePath turns a file or directory argument into the absolute path of
// the root config file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func loadTree(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = []string{absPath}

	configDir := filepath.Dir(absPath)
	if err := loadTemplateFiles(cfg, cfg.TemplateFiles, configDir); err != nil {
		return nil, err
	}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, configDir, visited); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}

		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		deepMergeConfig(cfg, includedCfg)

		includedBaseDir := filepath.Dir(absPath)
		if err := loadTemplateFiles(cfg, includedCfg.TemplateFiles, includedBaseDir); err != nil {
			return err
		}

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, includedBaseDir, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	// Partial config: defaults are applied once the whole tree is merged.
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// loadTemplateFiles expands doublestar patterns relative to baseDir and
// appends the templates found in each match. A pattern matching nothing is
// not an error.
func loadTemplateFiles(cfg *Config, patterns []string, baseDir string) error {
	for i, pattern := range patterns {
		pattern = interpolateEnv(pattern)
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		if !doublestar.ValidatePathPattern(pattern) {
			return fmt.Errorf("template_files[%d]: invalid pattern %q", i, pattern)
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("template_files[%d]: %w", i, err)
		}
		sort.Strings(matches)

		for _, path := range matches {
			if slices.Contains(cfg.SourceFiles, path) {
				continue
			}
			tpls, err := loadTemplateFile(path)
			if err != nil {
				return fmt.Errorf("template_files[%d]: %w", i, err)
			}
			cfg.Templates = append(cfg.Templates, tpls...)
			cfg.SourceFiles = append(cfg.SourceFiles, path)
		}
	}
	return nil
}

// loadTemplateFile reads either a `templates:` list or a single template
// document. Template text is not env-interpolated.
func loadTemplateFile(path string) ([]templates.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc struct {
		Templates []templates.Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(doc.Templates) > 0 {
		for j, t := range doc.Templates {
			if t.ID == "" {
				return nil, fmt.Errorf("%s: templates[%d].id is required", path, j)
			}
		}
		return doc.Templates, nil
	}

	var single templates.Template
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if single.ID == "" {
		return nil, fmt.Errorf("%s: template id is required", path)
	}
	return []templates.Template{single}, nil
}

// deepMergeConfig merges src into dst. Non-zero scalars in src override dst;
// channels, templates and tokens are appended.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.DryRun {
		dst.Service.DryRun = true
	}

	if src.Render.Strict {
		dst.Render.Strict = true
	}
	if src.Bulk.MaxConcurrency != 0 {
		dst.Bulk.MaxConcurrency = src.Bulk.MaxConcurrency
	}
	if src.Transports.Timeout != 0 {
		dst.Transports.Timeout = src.Transports.Timeout
	}

	if src.Ledger.Backend != "" {
		dst.Ledger.Backend = src.Ledger.Backend
	}
	if src.Ledger.Path != "" {
		dst.Ledger.Path = src.Ledger.Path
	}
	if src.Ledger.Redis.Addr != "" {
		dst.Ledger.Redis.Addr = src.Ledger.Redis.Addr
	}
	if src.Ledger.Redis.Password != "" {
		dst.Ledger.Redis.Password = src.Ledger.Redis.Password
	}
	if src.Ledger.Redis.DB != 0 {
		dst.Ledger.Redis.DB = src.Ledger.Redis.DB
	}
	if src.Ledger.Redis.Prefix != "" {
		dst.Ledger.Redis.Prefix = src.Ledger.Redis.Prefix
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.MaxBulk != 0 {
		dst.API.MaxBulk = src.API.MaxBulk
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	dst.API.CORSOrigins = append(dst.API.CORSOrigins, src.API.CORSOrigins...)

	dst.Channels = append(dst.Channels, src.Channels...)
	dst.Templates = append(dst.Templates, src.Templates...)
}

func verifyAllConfigHashes(paths []string) error {
	// One manifest per directory.
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: courier config lock", basename, dir)
			}

			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If you edited this file intentionally, run: courier config lock", path, err)
			}
		}
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Bulk.MaxConcurrency == 0 {
		cfg.Bulk.MaxConcurrency = defaults.Bulk.MaxConcurrency
	}
	if cfg.Transports.Timeout == 0 {
		cfg.Transports.Timeout = defaults.Transports.Timeout
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = defaults.Ledger.Backend
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = defaults.Ledger.Path
	}
	if cfg.Ledger.Redis.Addr == "" {
		cfg.Ledger.Redis.Addr = defaults.Ledger.Redis.Addr
	}
	if cfg.Ledger.Redis.Prefix == "" {
		cfg.Ledger.Redis.Prefix = defaults.Ledger.Redis.Prefix
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxBulk == 0 {
		cfg.API.MaxBulk = defaults.API.MaxBulk
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}
