package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version       string
	LogLevel      string
	Format        string
	Marker        string
	DNSPorts      []int `toml:"dnsports"`
	IdleWindow    Duration
	SweepInterval Duration
	Workers       int
	Shards        int
	TrustedNets   []string
	Output        string
	Report        string
	MetricsFile   string

	sVersion string
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Input formats accepted by the format key.
const (
	FormatAuto   = "auto"
	FormatLog    = "log"
	FormatPcap   = "pcap"
	FormatDnstap = "dnstap"
)

// Report formats accepted by the report key.
const (
	ReportText = "text"
	ReportJSON = "json"
	ReportYAML = "yaml"
)

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# Input format [auto,log,pcap,dnstap]. auto sniffs the first bytes of the input.
format = "auto"

# Case-insensitive token that marks a resolver log line as a DNS response.
marker = "response"

# UDP/TCP ports carrying DNS in packet captures.
dnsports = [53]

# Transactions idle longer than this are finalized while the input is still
# being read, left "0s" to finalize only at end of input.
idlewindow = "0s"

# How much stream time passes between idle window sweeps.
sweepinterval = "1s"

# Parse workers, 0 for one per CPU.
workers = 0

# Correlator shard count.
shards = 32

# Resolver or authoritative server networks whose answers are marked trusted
# in the evidence listing. Example: "10.0.0.53/32"
trustednets = [
]

# Report file, left blank for stdout.
output = ""

# Report format [text,json,yaml]. json writes one anomaly per line.
report = "text"

# Prometheus textfile written at the end of each run, left blank for disabled.
metricsfile = ""
`

// Default returns the configuration used when no config file is given.
func Default(version string) *Config {
	return &Config{
		Version:       configver,
		LogLevel:      "info",
		Format:        FormatAuto,
		Marker:        "response",
		DNSPorts:      []int{53},
		SweepInterval: Duration{time.Second},
		Shards:        32,
		Report:        ReportText,
		sVersion:      version,
	}
}

// ServerVersion return current build version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Load loads the given config file, generating a default one when it does not exist.
func Load(cfgfile, version string) (*Config, error) {
	config := Default(version)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := Generate(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail later in the run.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatAuto, FormatLog, FormatPcap, FormatDnstap:
	default:
		return fmt.Errorf("unknown input format %q", c.Format)
	}

	switch c.Report {
	case ReportText, ReportJSON, ReportYAML:
	default:
		return fmt.Errorf("unknown report format %q", c.Report)
	}

	if strings.TrimSpace(c.Marker) == "" {
		return fmt.Errorf("response marker must not be empty")
	}

	for _, port := range c.DNSPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid dns port %d", port)
		}
	}

	if c.IdleWindow.Duration < 0 {
		return fmt.Errorf("idle window must not be negative")
	}

	if c.Workers < 0 || c.Shards < 0 {
		return fmt.Errorf("workers and shards must not be negative")
	}

	for _, cidr := range c.TrustedNets {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted network: %w", err)
		}
	}

	return nil
}

// Ports returns the DNS ports as uint16 values.
func (c *Config) Ports() []uint16 {
	ports := make([]uint16, 0, len(c.DNSPorts))
	for _, port := range c.DNSPorts {
		ports = append(ports, uint16(port)) //nolint:gosec // checked by Validate
	}
	return ports
}

// Generate writes the commented default configuration to path.
func Generate(path string) error {
	if path == "" {
		return fmt.Errorf("could not generate config: empty path")
	}

	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
