package config

import (
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	validator "gopkg.in/go-playground/validator.v9"
)

// Config is the repod configuration shared by every process.
// Durations are expressed in seconds.
type Config struct {
	Redis    string `json:"redis" validate:"required"`
	Database string `json:"database" validate:"required"`
	// ReposRoot is where built repositories are written.
	ReposRoot string `json:"repos_root" validate:"required"`

	QuietTime     int    `json:"quiet_time" validate:"gte=0"`
	PollSchedule  string `json:"poll_schedule" validate:"required"`
	PurgeSchedule string `json:"purge_schedule" validate:"required"`
	PurgeRepos    bool   `json:"purge_repos"`
	BuildTimeout  int    `json:"build_timeout" validate:"gte=0"`

	CallbackURL         string `json:"callback_url" validate:"omitempty,url"`
	CallbackUser        string `json:"callback_user"`
	CallbackKey         string `json:"callback_key"`
	CallbackVerifySSL   bool   `json:"callback_verify_ssl"`
	CallbackMaxAttempts int    `json:"callback_max_attempts" validate:"gte=1"`
	CallbackRetryDelay  int    `json:"callback_retry_delay" validate:"gte=0"`
	CallbackTimeout     int    `json:"callback_timeout" validate:"gte=1"`

	Builders          BuildersConfig   `json:"builders"`
	WorkerConcurrency int              `json:"worker_concurrency" validate:"gte=1"`
	MetricsAddress    string           `json:"metrics_address"`
	Monitoring        MonitoringConfig `json:"monitoring"`

	IsDev bool `json:"is_dev"`
}

// BuildersConfig holds the shell command run for each repository type.
type BuildersConfig struct {
	RPM string `json:"rpm"` // createrepo_c "$REPO_DIR"
	DEB string `json:"deb"` // reprepro -b "$REPO_DIR" includedeb ...

	// Reprepro builds deb repos natively when no deb command is set.
	Reprepro RepreproConfig `json:"reprepro"`
}

// RepreproConfig drives the built-in reprepro builder for deb repos.
type RepreproConfig struct {
	Enabled       bool   `json:"enabled"`
	Components    string `json:"components"`
	Architectures string `json:"architectures"`
	SignWith      string `json:"sign_with"` // gpg key id, empty leaves the repo unsigned
}

// MonitoringConfig controls the redis instance registry. Intervals and the
// offline timeout are in seconds.
type MonitoringConfig struct {
	Enabled           bool `json:"enabled"`
	HeartbeatInterval int  `json:"heartbeat_interval" validate:"gte=0"`
	InstanceTimeout   int  `json:"instance_timeout" validate:"gte=0"`
	CleanupInterval   int  `json:"cleanup_interval" validate:"gte=0"`
}

// Default returns a configuration with every optional value filled in.
// Values present in the YAML file override these.
func Default() Config {
	return Config{
		Redis:               "redis://localhost:6379",
		Database:            "/var/lib/irgsh/repod/repod.db",
		ReposRoot:           "/var/lib/irgsh/repod/repos",
		QuietTime:           30,
		PollSchedule:        "@every 1m",
		PurgeSchedule:       "@every 1h",
		PurgeRepos:          false,
		BuildTimeout:        0,
		CallbackVerifySSL:   true,
		CallbackMaxAttempts: 3,
		CallbackRetryDelay:  30,
		CallbackTimeout:     10,
		WorkerConcurrency:   1,
		Builders: BuildersConfig{
			Reprepro: RepreproConfig{
				Components:    "main",
				Architectures: "amd64 source",
			},
		},
		Monitoring: MonitoringConfig{
			HeartbeatInterval: 30,
			InstanceTimeout:   90,
			CleanupInterval:   300,
		},
	}
}

// QuietDuration is the delay between claiming a repo and running its build.
func (c Config) QuietDuration() time.Duration {
	return time.Duration(c.QuietTime) * time.Second
}

// BuildTimeoutDuration bounds a build and its lease, zero means unbounded.
func (c Config) BuildTimeoutDuration() time.Duration {
	return time.Duration(c.BuildTimeout) * time.Second
}

// CallbackRetryDelayDuration separates two attempts of one callback.
func (c Config) CallbackRetryDelayDuration() time.Duration {
	return time.Duration(c.CallbackRetryDelay) * time.Second
}

// CallbackTimeoutDuration bounds a single callback request.
func (c Config) CallbackTimeoutDuration() time.Duration {
	return time.Duration(c.CallbackTimeout) * time.Second
}

// LoadConfig loads the repod config from REPOD_CONFIG_PATH or one of the
// predefined paths.
func LoadConfig() (config Config, err error) {
	configPaths := []string{
		"/etc/irgsh/repod.yml",
		"../../utils/repod.yml",
		"./utils/repod.yml",
	}
	configPath := os.Getenv("REPOD_CONFIG_PATH")
	yamlFile, err := ioutil.ReadFile(configPath)
	if err != nil {
		// load from predefined configPaths when no REPOD_CONFIG_PATH set
		for _, path := range configPaths {
			yamlFile, err = ioutil.ReadFile(path)
			if err == nil {
				log.Println("load config from : ", path)
				break
			}
		}
		if err != nil {
			return
		}
	}
	return parse(yamlFile, os.Getenv("DEV") == "1")
}

// LoadConfigFromPath loads the repod config from an explicit path.
func LoadConfigFromPath(path string) (config Config, err error) {
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		return
	}
	return parse(yamlFile, os.Getenv("DEV") == "1")
}

func parse(yamlFile []byte, isDev bool) (config Config, err error) {
	config = Default()
	err = yaml.Unmarshal(yamlFile, &config)
	if err != nil {
		return
	}

	if isDev {
		// Since it's in dev env, let's move some path to ./tmp
		cwd, _ := os.Getwd()
		tmpDir := cwd + "/tmp/"
		if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
			os.Mkdir(tmpDir, 0755)
		}
		config.Database = strings.ReplaceAll(config.Database, "/var/lib/", tmpDir)
		config.ReposRoot = strings.ReplaceAll(config.ReposRoot, "/var/lib/", tmpDir)
	}
	config.IsDev = isDev

	validate := validator.New()
	err = validate.Struct(config)
	return
}
