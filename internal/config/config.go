package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/tgbot/internal/ratelimit"
)

const defaultEnvFile = ".env"

// Secret hides its value from fmt and loggers.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "**********"
}

func (s Secret) Value() string { return string(s) }

type TgBot struct {
	Token    Secret
	AdminIDs []int64
	UseRedis bool
	SendRate float64 // outgoing messages per second
	Workers  int     // updates handled concurrently
}

type DB struct {
	Host     string
	Password Secret
	User     string
	Database string
	Port     int
	SSLMode  string
}

// URL is the postgres:// form passed to gorm's postgres driver. Every part
// is escaped, so passwords may hold spaces and quotes.
func (d DB) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password.Value()),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type Redis struct {
	Host     string
	Port     int
	Password Secret
}

func (r Redis) Addr() string { return net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) }

// DSN is the redis:// URL the shared limiter connects with.
func (r Redis) DSN() string {
	u := url.URL{Scheme: "redis", Host: r.Addr(), Path: "/0"}
	if r.Password != "" {
		u.User = url.UserPassword("", r.Password.Value())
	}
	return u.String()
}

type Misc struct {
	OtherParams string
}

type PolicyConfig struct {
	Name     string        `yaml:"name"`
	Window   time.Duration `yaml:"window"`
	Capacity int           `yaml:"capacity"`
}

type Throttling struct {
	DefaultWindow   time.Duration
	DefaultCapacity int
	PoliciesFile    string
	FailOpen        bool
	Policies        []PolicyConfig // from PoliciesFile
}

// RatePolicies returns the default policy followed by the file policies.
func (t Throttling) RatePolicies() []ratelimit.Policy {
	out := []ratelimit.Policy{{
		Name:     ratelimit.DefaultPolicy,
		Window:   t.DefaultWindow,
		Capacity: t.DefaultCapacity,
	}}
	for _, p := range t.Policies {
		out = append(out, ratelimit.Policy{Name: p.Name, Window: p.Window, Capacity: p.Capacity})
	}
	return out
}

type Observability struct {
	LogLevel string // "debug","info","warn","error"
	OpsAddr  string // health, version and metrics listener
}

type Root struct {
	TgBot         TgBot
	DB            DB
	Redis         Redis
	Misc          *Misc
	Throttling    Throttling
	Observability Observability
}

// Load builds the config from the environment and envFile (".env" when
// empty). Variables set in the process environment win over the file.
// A missing default file is fine; a missing explicit file is an error.
func Load(envFile string) (*Root, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = defaultEnvFile
	}
	file, err := godotenv.Read(envFile)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
		file = map[string]string{}
	}

	e := &env{file: file}
	var cfg Root

	cfg.TgBot = TgBot{
		Token:    Secret(e.str("TGBOT_TOKEN", "")),
		UseRedis: e.boolean("TGBOT_USE_REDIS", false),
		SendRate: e.float("TGBOT_SEND_RATE", 25),
		Workers:  e.integer("TGBOT_WORKERS", 16),
	}
	ids, err := parseIDs(e.str("TGBOT_ADMIN_IDS", ""))
	if err != nil {
		e.fail(fmt.Errorf("invalid TGBOT_ADMIN_IDS: %w", err))
	}
	cfg.TgBot.AdminIDs = ids

	cfg.DB = DB{
		Host:     e.str("DB_HOST", ""),
		Password: Secret(e.str("DB_PASSWORD", "")),
		User:     e.str("DB_USER", ""),
		Database: e.str("DB_DATABASE", ""),
		Port:     e.integer("DB_PORT", 5432),
		SSLMode:  e.str("DB_SSLMODE", "disable"),
	}

	cfg.Redis = Redis{
		Host:     e.str("REDIS_HOST", "localhost"),
		Port:     e.integer("REDIS_PORT", 6379),
		Password: Secret(e.str("REDIS_PASSWORD", "")),
	}

	if other := e.str("MISC_OTHER_PARAMS", ""); other != "" {
		cfg.Misc = &Misc{OtherParams: other}
	}

	cfg.Throttling = Throttling{
		DefaultWindow:   e.duration("THROTTLING_DEFAULT_WINDOW", 2*time.Second),
		DefaultCapacity: e.integer("THROTTLING_DEFAULT_CAPACITY", 10_000),
		PoliciesFile:    e.str("THROTTLING_POLICIES_FILE", ""),
		FailOpen:        e.boolean("THROTTLING_FAIL_OPEN", false),
	}
	if cfg.Throttling.PoliciesFile != "" {
		policies, err := LoadPolicies(cfg.Throttling.PoliciesFile)
		if err != nil {
			e.fail(err)
		}
		cfg.Throttling.Policies = policies
	}

	cfg.Observability = Observability{
		LogLevel: e.str("LOG_LEVEL", "info"),
		OpsAddr:  e.str("OPS_ADDR", ":8081"),
	}

	errs := append(e.errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}

func (c *Root) validate() []error {
	var errs []error
	required := map[string]string{
		"TGBOT_TOKEN": c.TgBot.Token.Value(),
		"DB_HOST":     c.DB.Host,
		"DB_PASSWORD": c.DB.Password.Value(),
		"DB_USER":     c.DB.User,
		"DB_DATABASE": c.DB.Database,
	}
	for _, key := range []string{"TGBOT_TOKEN", "DB_HOST", "DB_PASSWORD", "DB_USER", "DB_DATABASE"} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if len(c.TgBot.AdminIDs) == 0 {
		errs = append(errs, fmt.Errorf("TGBOT_ADMIN_IDS is required"))
	}
	if c.TgBot.SendRate <= 0 {
		errs = append(errs, fmt.Errorf("TGBOT_SEND_RATE must be positive"))
	}
	if c.TgBot.Workers <= 0 {
		errs = append(errs, fmt.Errorf("TGBOT_WORKERS must be positive"))
	}
	for _, p := range c.Throttling.RatePolicies() {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

type policiesFile struct {
	Policies []PolicyConfig `yaml:"policies"`
}

// LoadPolicies reads extra throttling policies from a YAML file.
func LoadPolicies(path string) ([]PolicyConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies file: %w", err)
	}
	var f policiesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse policies file %s: %w", path, err)
	}
	for i, p := range f.Policies {
		if p.Name == ratelimit.DefaultPolicy {
			return nil, fmt.Errorf("policies file %s: entry %d redefines %q, use THROTTLING_DEFAULT_* instead", path, i, p.Name)
		}
	}
	return f.Policies, nil
}

// parseIDs accepts a JSON list ("[1, 2]") or a comma separated list.
func parseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// env resolves keys from the process environment, then the env file, and
// collects parse errors instead of stopping at the first one.
type env struct {
	file map[string]string
	errs []error
}

func (e *env) fail(err error) { e.errs = append(e.errs, err) }

func (e *env) str(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if value := strings.TrimSpace(e.file[key]); value != "" {
		return value
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return v
}

func (e *env) float(key string, fallback float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return v
}

func (e *env) boolean(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return v
}

// duration takes Go durations ("1500ms") or bare seconds ("2").
func (e *env) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}
