package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/dchat/limits"
)

// DefaultPort is the well-known port used for both discovery datagrams and
// the reliable connection listener.
const DefaultPort = 1337

// SecretEnv names the environment variable that may carry the Channel Secret.
const SecretEnv = "DCHAT_SECRET"

// Digest algorithm names.
const (
	DigestHMACSHA256 = "hmac-sha256"
	DigestBLAKE2b    = "blake2b-256"
)

// Discovery modes.
const (
	DiscoveryBroadcast = "broadcast"
	DiscoveryMulticast = "multicast"
)

// SupportedCiphers and SupportedHashes form the permitted cipher policy.
var (
	SupportedCiphers = []string{"ChaChaPoly", "AESGCM"}
	SupportedHashes  = []string{"SHA256", "SHA512", "BLAKE2s", "BLAKE2b"}
)

var (
	// ErrEmptyChannel indicates the Identity Tag is empty.
	ErrEmptyChannel = errors.New("channel name cannot be empty")
	// ErrEmptySecret indicates the Channel Secret is empty.
	ErrEmptySecret = errors.New("channel secret cannot be empty")
	// ErrInvalidPort indicates the port is outside 1..65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")
)

// Config is the complete configuration of one dchat node.
type Config struct {
	// Channel is the Identity Tag.
	Channel string `yaml:"channel"`
	// Secret is the Channel Secret.
	Secret string `yaml:"secret"`
	// Port is the well-known port for discovery and connections.
	Port int `yaml:"port"`
	// ListenHost restricts the listener and discovery socket to one address.
	ListenHost string `yaml:"listen_host"`

	// DHParamFile points at a PEM "DH PARAMETERS" file.
	DHParamFile string `yaml:"dhparam"`
	// AllowWeakDH lowers the accepted prime size floor.
	AllowWeakDH bool `yaml:"allow_weak_dh"`
	// Cipher and Hash select the Noise cipher suite.
	Cipher string `yaml:"cipher"`
	Hash   string `yaml:"hash"`
	// MinVersion is the oldest protocol version accepted from a peer.
	MinVersion uint8 `yaml:"min_version"`
	// Digest selects the keyed hash used by the Handshake Authenticator.
	Digest string `yaml:"digest"`
	// HandshakeTimeout bounds authentication plus upgrade. Zero disables it.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// MaxPendingHandshakes caps inbound connections still authenticating.
	// Connections over the cap are closed at once. Zero means no cap.
	MaxPendingHandshakes int `yaml:"max_pending_handshakes"`
	// WriteTimeout bounds the write of one frame to a peer, plus one second
	// per 256 KiB. Zero disables it.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Discovery is "broadcast" or "multicast".
	Discovery      string `yaml:"discovery"`
	MulticastGroup string `yaml:"multicast_group"`
	// AnnounceInterval re-announces periodically when positive.
	AnnounceInterval time.Duration `yaml:"announce_interval"`

	// DownloadDir receives incoming files.
	DownloadDir string `yaml:"download_dir"`
	// MaxFileSize limits both sent and received files.
	MaxFileSize int64 `yaml:"max_file_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Channel:              "dchat",
		Secret:               "lol",
		Port:                 DefaultPort,
		DHParamFile:          "dhparam.pem",
		Cipher:               "ChaChaPoly",
		Hash:                 "SHA256",
		MinVersion:           1,
		Digest:               DigestHMACSHA256,
		HandshakeTimeout:     10 * time.Second,
		MaxPendingHandshakes: 64,
		WriteTimeout:         10 * time.Second,
		Discovery:            DiscoveryBroadcast,
		MulticastGroup:       "239.255.13.37",
		DownloadDir:          ".",
		MaxFileSize:          limits.DefaultMaxFileSize,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.Parse(data)
}

// Parse overlays a YAML document onto c.
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv takes the Channel Secret from SecretEnv when it is set.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(SecretEnv); ok && v != "" {
		c.Secret = v
	}
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if c.Channel == "" {
		return ErrEmptyChannel
	}
	if c.Secret == "" {
		return ErrEmptySecret
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.ListenHost != "" && net.ParseIP(c.ListenHost) == nil {
		return fmt.Errorf("listen host %q is not an IP address", c.ListenHost)
	}
	if c.DHParamFile == "" {
		return errors.New("dhparam file cannot be empty")
	}

	switch c.Digest {
	case DigestHMACSHA256:
	case DigestBLAKE2b:
		// Keyed BLAKE2b accepts at most a 64 byte key.
		if len(c.Secret) > 64 {
			return fmt.Errorf("secret of %d bytes is too long for %s (max 64)", len(c.Secret), DigestBLAKE2b)
		}
	default:
		return fmt.Errorf("unknown digest %q", c.Digest)
	}

	if !contains(SupportedCiphers, c.Cipher) {
		return fmt.Errorf("cipher %q is not permitted (allowed: %s)", c.Cipher, strings.Join(SupportedCiphers, ", "))
	}
	if !contains(SupportedHashes, c.Hash) {
		return fmt.Errorf("hash %q is not permitted (allowed: %s)", c.Hash, strings.Join(SupportedHashes, ", "))
	}

	if c.MinVersion == 0 {
		return errors.New("min version must be at least 1")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout cannot be negative")
	}
	if c.MaxPendingHandshakes < 0 {
		return errors.New("max pending handshakes cannot be negative")
	}
	if c.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}
	if c.AnnounceInterval < 0 {
		return errors.New("announce interval cannot be negative")
	}

	switch c.Discovery {
	case DiscoveryBroadcast:
	case DiscoveryMulticast:
		ip := net.ParseIP(c.MulticastGroup)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("multicast group %q is not an IPv4 multicast address", c.MulticastGroup)
		}
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery)
	}

	if c.MaxFileSize < 0 {
		return errors.New("max file size cannot be negative")
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ListenAddr returns the host:port the listener and discovery socket bind to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, fmt.Sprint(c.Port))
}
