// Package config loads the configuration of deploylock from flags, environment variables
// and an optional config file
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/locker"
	"github.com/github/deploylock/pkg/scope"
)

// EnvPrefix is the prefix of the environment variables, e.g. DEPLOYLOCK_STORE_TYPE
const EnvPrefix = "DEPLOYLOCK"

// store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreS3     = "s3"
	StoreRedis  = "redis"
	StoreGitHub = "github"
)

// lease backends
const (
	LeaseNone   = "none"
	LeaseMemory = "memory"
	LeaseRedis  = "redis"
	LeaseS3     = "s3"
)

// Config is the complete configuration. It is loaded and validated once and then passed by value.
type Config struct {
	LogLevel          string         `mapstructure:"log_level"`
	GlobalOwnerPolicy string         `mapstructure:"global_owner_policy"`
	Commands          CommandsConfig `mapstructure:"commands"`
	Store             StoreConfig    `mapstructure:"store"`
	Lease             LeaseConfig    `mapstructure:"lease"`
	GitHub            GitHubConfig   `mapstructure:"github"`
	Redis             RedisConfig    `mapstructure:"redis"`
	S3                S3Config       `mapstructure:"s3"`
	Server            ServerConfig   `mapstructure:"server"`
}

// CommandsConfig defines the vocabulary of lock commands
type CommandsConfig struct {
	LockTrigger   string   `mapstructure:"lock_trigger"`
	UnlockTrigger string   `mapstructure:"unlock_trigger"`
	InfoAlias     string   `mapstructure:"info_alias"`
	GlobalFlag    string   `mapstructure:"global_flag"`
	InfoFlags     []string `mapstructure:"info_flags"`
	// Environment used when a command names none
	Environment string `mapstructure:"environment"`
	// EnvironmentTargets are the environments commands can target
	EnvironmentTargets []string `mapstructure:"environment_targets"`
}

// StoreConfig selects the backend holding lock branches
type StoreConfig struct {
	// Type is one of memory, file, s3, redis or github
	Type string `mapstructure:"type"`
	// Dir of the file store. Defaults to a temporary directory
	Dir string `mapstructure:"dir"`
	// Prefix of the redis keys
	Prefix        string `mapstructure:"prefix"`
	DefaultBranch string `mapstructure:"default_branch"`
}

// LeaseConfig selects the lease that serializes claims of a scope
type LeaseConfig struct {
	// Type is one of none, memory, redis or s3
	Type         string        `mapstructure:"type"`
	Duration     time.Duration `mapstructure:"duration"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Prefix       string        `mapstructure:"prefix"`
}

// GitHubConfig defines the access to the repository holding the locks
type GitHubConfig struct {
	APIURL string `mapstructure:"api_url"`
	// ServerURL is used for building links
	ServerURL  string `mapstructure:"server_url"`
	Token      string `mapstructure:"token"`
	Repository string `mapstructure:"repository"`
}

// RedisConfig defines the connection to redis, used by the redis store and lease
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// S3Config defines the bucket used by the s3 store and lease
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ServerConfig defines the lock API server
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Token shared by the server and its clients. Requests are not authenticated if empty
	Token string `mapstructure:"token"`
}

// Default returns the default configuration
func Default() Config {
	tokens := scope.DefaultTokens()
	return Config{
		LogLevel:          "INFO",
		GlobalOwnerPolicy: string(locker.RecheckScope),
		Commands: CommandsConfig{
			LockTrigger:        tokens.LockTrigger,
			UnlockTrigger:      tokens.UnlockTrigger,
			InfoAlias:          tokens.InfoAlias,
			GlobalFlag:         tokens.GlobalFlag,
			InfoFlags:          tokens.InfoFlags,
			Environment:        tokens.DefaultEnvironment,
			EnvironmentTargets: tokens.Environments,
		},
		Store: StoreConfig{
			Type:   StoreGitHub,
			Prefix: "deploylock",
		},
		Lease: LeaseConfig{
			Type:         LeaseNone,
			Duration:     time.Minute,
			PollInterval: 100 * time.Millisecond,
		},
		GitHub: GitHubConfig{
			APIURL:    "https://api.github.com",
			ServerURL: "https://github.com",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Addr: "localhost:8000",
		},
	}
}

// SetDefaults registers the defaults in v. Environment variables are only
// considered for keys known to v, so every key must have a default.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("global_owner_policy", defaults.GlobalOwnerPolicy)

	v.SetDefault("commands.lock_trigger", defaults.Commands.LockTrigger)
	v.SetDefault("commands.unlock_trigger", defaults.Commands.UnlockTrigger)
	v.SetDefault("commands.info_alias", defaults.Commands.InfoAlias)
	v.SetDefault("commands.global_flag", defaults.Commands.GlobalFlag)
	v.SetDefault("commands.info_flags", defaults.Commands.InfoFlags)
	v.SetDefault("commands.environment", defaults.Commands.Environment)
	v.SetDefault("commands.environment_targets", defaults.Commands.EnvironmentTargets)

	v.SetDefault("store.type", defaults.Store.Type)
	v.SetDefault("store.dir", defaults.Store.Dir)
	v.SetDefault("store.prefix", defaults.Store.Prefix)
	v.SetDefault("store.default_branch", defaults.Store.DefaultBranch)

	v.SetDefault("lease.type", defaults.Lease.Type)
	v.SetDefault("lease.duration", defaults.Lease.Duration)
	v.SetDefault("lease.poll_interval", defaults.Lease.PollInterval)
	v.SetDefault("lease.prefix", defaults.Lease.Prefix)

	v.SetDefault("github.api_url", defaults.GitHub.APIURL)
	v.SetDefault("github.server_url", defaults.GitHub.ServerURL)
	v.SetDefault("github.token", defaults.GitHub.Token)
	v.SetDefault("github.repository", defaults.GitHub.Repository)

	v.SetDefault("redis.addr", defaults.Redis.Addr)
	v.SetDefault("redis.password", defaults.Redis.Password)
	v.SetDefault("redis.db", defaults.Redis.DB)

	v.SetDefault("s3.bucket", defaults.S3.Bucket)
	v.SetDefault("s3.endpoint", defaults.S3.Endpoint)
	v.SetDefault("s3.region", defaults.S3.Region)
	v.SetDefault("s3.access_key_id", defaults.S3.AccessKeyID)
	v.SetDefault("s3.secret_access_key", defaults.S3.SecretAccessKey)

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.token", defaults.Server.Token)
}

// flagKeys maps the flags added by AddFlags to their configuration keys
var flagKeys = map[string]string{ //nolint:gochecknoglobals
	"log-level":           "log_level",
	"global-owner-policy": "global_owner_policy",
	"environment":         "commands.environment",
	"environment-targets": "commands.environment_targets",
	"store":               "store.type",
	"store-dir":           "store.dir",
	"lease":               "lease.type",
	"repository":          "github.repository",
	"github-api-url":      "github.api_url",
	"redis-addr":          "redis.addr",
	"s3-bucket":           "s3.bucket",
	"s3-endpoint":         "s3.endpoint",
	"s3-region":           "s3.region",
	"addr":                "server.addr",
}

// actionsEnv maps configuration keys to the variables GitHub Actions sets for them.
// DEPLOYLOCK_ variables take precedence.
var actionsEnv = map[string]string{ //nolint:gochecknoglobals
	"github.token":      "GITHUB_TOKEN",
	"github.repository": "GITHUB_REPOSITORY",
	"github.api_url":    "GITHUB_API_URL",
	"github.server_url": "GITHUB_SERVER_URL",
}

// AddFlags adds the flags that override configuration keys.
// Their defaults are empty: unset flags leave the value from the environment, the file or the defaults.
func AddFlags(flags *pflag.FlagSet) {
	flags.StringP("log-level", "l", "", "log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("global-owner-policy", "", "handling of requests from the global lock owner (recheck-scope, global-owner-wins)")
	flags.String("environment", "", "environment used when a command names none")
	flags.StringSlice("environment-targets", nil, "environments commands can target")
	flags.String("store", "", "lock store (memory, file, s3, redis, github)")
	flags.String("store-dir", "", "directory of the file store")
	flags.String("lease", "", "claim lease (none, memory, redis, s3)")
	flags.String("repository", "", "repository holding the locks, in owner/name form")
	flags.String("github-api-url", "", "url of the GitHub API")
	flags.String("redis-addr", "", "address of the redis server")
	flags.String("s3-bucket", "", "bucket of the s3 store and lease")
	flags.String("s3-endpoint", "", "s3 endpoint (for testing)")
	flags.String("s3-region", "", "aws region")
}

// BindFlags binds the flags added by AddFlags to v
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the configuration from v and validates it.
// Values come from bound flags, DEPLOYLOCK_ environment variables, the config file set in v and the defaults,
// in that order of precedence.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// variables set by GitHub Actions
	for key, env := range actionsEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, deploylock.NewWrappedError(deploylock.ErrInvalidConfig, err)
		}
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, deploylock.NewWrappedError(deploylock.ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, deploylock.NewWrappedError(deploylock.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Tokens returns the command vocabulary
func (c Config) Tokens() scope.Tokens {
	return scope.Tokens{
		LockTrigger:        c.Commands.LockTrigger,
		UnlockTrigger:      c.Commands.UnlockTrigger,
		InfoAlias:          c.Commands.InfoAlias,
		GlobalFlag:         c.Commands.GlobalFlag,
		InfoFlags:          c.Commands.InfoFlags,
		DefaultEnvironment: c.Commands.Environment,
		Environments:       c.Commands.EnvironmentTargets,
	}
}

// Validate checks the configuration and returns all the problems found
func (c Config) Validate() error {
	errs := []error{}

	if _, err := deploylock.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := locker.ParseGlobalOwnerPolicy(c.GlobalOwnerPolicy); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tokens().Validate(); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateLease()...)

	if len(errs) == 0 {
		return nil
	}

	return deploylock.NewWrappedError(deploylock.ErrInvalidConfig, errors.Join(errs...))
}

func (c Config) validateStore() []error {
	errs := []error{}

	switch c.Store.Type {
	case StoreMemory, StoreFile:
	case StoreS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 store requires a bucket"))
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis store requires an address"))
		}
	case StoreGitHub:
		if c.GitHub.Token == "" {
			errs = append(errs, errors.New("github store requires a token"))
		}
		if c.GitHub.Repository == "" {
			errs = append(errs, errors.New("github store requires a repository"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}

	return errs
}

func (c Config) validateLease() []error {
	validTypes := []string{LeaseNone, LeaseMemory, LeaseRedis, LeaseS3}
	if !slices.Contains(validTypes, c.Lease.Type) {
		return []error{fmt.Errorf("unknown lease type %q", c.Lease.Type)}
	}

	errs := []error{}
	if c.Lease.Type == LeaseRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis lease requires an address"))
	}
	if c.Lease.Type == LeaseS3 && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3 lease requires a bucket"))
	}
	if c.Lease.Duration < 0 || c.Lease.PollInterval < 0 {
		errs = append(errs, errors.New("lease durations cannot be negative"))
	}

	return errs
}
