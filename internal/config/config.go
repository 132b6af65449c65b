package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/logwire/internal/source"
)

// FileNames are the config file names Load looks for, in order.
var FileNames = []string{"logwire.yml", "logwire.yaml"}

// Config holds the settings loaded from logwire.yml.
type Config struct {
	LogHome    string               `yaml:"logHome,omitempty"`
	Global     *source.GlobalConfig `yaml:"global,omitempty"`
	Categories []Category           `yaml:"categories,omitempty" validate:"unique=ID,dive"`
	Fragments  []Fragment           `yaml:"fragments,omitempty" validate:"unique=ID,dive"`
	Watch      Watch                `yaml:"watch,omitempty"`
	Metrics    Listener             `yaml:"metrics,omitempty"`
	MCP        Listener             `yaml:"mcp,omitempty"`
	Log        Log                  `yaml:"log,omitempty"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Category is one category config with its id.
type Category struct {
	ID                    string `yaml:"id" validate:"required"`
	source.CategoryConfig `yaml:",inline"`
}

// Fragment is a fragment document given by path or inline.
type Fragment struct {
	ID     string `yaml:"id" validate:"required"`
	Path   string `yaml:"path,omitempty" validate:"required_without=Inline,excluded_with=Inline"`
	Inline string `yaml:"inline,omitempty"`
}

// Watch configures fragment file watching.
type Watch struct {
	Enabled  bool          `yaml:"enabled,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty" validate:"gte=0"`
}

// Listener is an optional network listener address.
type Listener struct {
	Addr string `yaml:"addr,omitempty"`
}

// Log configures the process's own logging.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// configValidate checks the struct tags above. Field names in its errors are
// the yaml keys.
var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return v
}

// Load attempts to read logwire.yml or logwire.yaml from the given
// directory. Returns a zero-value config (not an error) if no config file
// exists.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return &Config{}, nil
}

// LoadFile reads and validates one config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural rules a config file must satisfy. Semantic
// checks such as output file ownership happen when sources are applied.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fieldError(fe))
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

func fieldError(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "unique":
		return fmt.Errorf("%s: duplicate id", field)
	case "required_without", "excluded_with":
		return fmt.Errorf("%s: exactly one of path and inline is required", strings.TrimSuffix(field, ".path"))
	case "gte":
		return fmt.Errorf("%s must not be negative", field)
	case "oneof":
		return fmt.Errorf("%s must be one of %s, got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

// Dir is the directory relative paths in the config resolve against: the
// config file's directory, or the working directory for defaults.
func (c *Config) Dir() string {
	if c.Path == "" {
		return "."
	}
	return filepath.Dir(c.Path)
}

// ResolvedLogHome returns LogHome resolved against Dir.
func (c *Config) ResolvedLogHome() string {
	if c.LogHome == "" || filepath.IsAbs(c.LogHome) {
		return c.LogHome
	}
	return filepath.Join(c.Dir(), c.LogHome)
}

// FragmentPaths returns the file paths of file-backed fragments, resolved
// against Dir.
func (c *Config) FragmentPaths() []string {
	var out []string
	for _, f := range c.Fragments {
		if f.Path != "" {
			out = append(out, c.fragmentPath(f))
		}
	}
	return out
}

func (c *Config) fragmentPath(f Fragment) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(c.Dir(), f.Path)
}

// Sources converts the config into registry sources: the global config
// first, then categories and fragments in file order.
func (c *Config) Sources() []source.Source {
	var out []source.Source
	if c.Global != nil {
		out = append(out, source.Global(*c.Global))
	}
	for _, cat := range c.Categories {
		out = append(out, source.Category(cat.ID, cat.CategoryConfig))
	}
	for _, f := range c.Fragments {
		if f.Path != "" {
			out = append(out, source.FragmentSource(f.ID, source.Fragment{Path: c.fragmentPath(f)}))
		} else {
			out = append(out, source.FragmentSource(f.ID, source.Fragment{Raw: []byte(f.Inline)}))
		}
	}
	return out
}

// Target receives configuration sources. *reconcile.Manager implements it.
type Target interface {
	SetGlobal(ctx context.Context, cfg source.GlobalConfig) error
	PutCategoryConfig(ctx context.Context, id string, cfg source.CategoryConfig) error
	RemoveCategoryConfig(ctx context.Context, id string) bool
	PutFragment(ctx context.Context, id string, doc []byte) error
	PutFragmentFile(ctx context.Context, id, path string) error
	RemoveFragment(ctx context.Context, id string) bool
}

// Apply puts every source in c into t. Sources present in prev but not in
// c are removed; prev may be nil. A rejected category config does not stop
// the others from being applied; all errors are returned together.
func (c *Config) Apply(ctx context.Context, t Target, prev *Config) error {
	var errs []error
	// Removals go first so their files and categories are free to be
	// claimed by what follows.
	if prev != nil {
		keepCat := make(map[string]bool, len(c.Categories))
		for _, cat := range c.Categories {
			keepCat[cat.ID] = true
		}
		for _, cat := range prev.Categories {
			if !keepCat[cat.ID] {
				t.RemoveCategoryConfig(ctx, cat.ID)
			}
		}
		keepFrag := make(map[string]bool, len(c.Fragments))
		for _, f := range c.Fragments {
			keepFrag[f.ID] = true
		}
		for _, f := range prev.Fragments {
			if !keepFrag[f.ID] {
				t.RemoveFragment(ctx, f.ID)
			}
		}
	}

	switch {
	case c.Global != nil:
		if err := t.SetGlobal(ctx, *c.Global); err != nil {
			errs = append(errs, fmt.Errorf("global: %w", err))
		}
	case prev != nil && prev.Global != nil:
		// A dropped global section reverts to the defaults.
		if err := t.SetGlobal(ctx, source.GlobalConfig{}); err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range c.Fragments {
		var err error
		if f.Path != "" {
			err = t.PutFragmentFile(ctx, f.ID, c.fragmentPath(f))
		} else {
			err = t.PutFragment(ctx, f.ID, []byte(f.Inline))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, cat := range c.Categories {
		if err := t.PutCategoryConfig(ctx, cat.ID, cat.CategoryConfig); err != nil {
			errs = append(errs, fmt.Errorf("category %s: %w", cat.ID, err))
		}
	}
	return errors.Join(errs...)
}
