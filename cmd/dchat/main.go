package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dchat"
	"github.com/opd-ai/dchat/config"
	"github.com/opd-ai/dchat/noise"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// CLI configuration
type CLIConfig struct {
	configFile       string
	port             int
	listenHost       string
	channel          string
	secret           string
	dhparam          string
	allowWeakDH      bool
	digest           string
	discovery        string
	announceInterval time.Duration
	downloadDir      string
	maxFileSize      int64
	connect          listFlag
	logLevel         string
	logFile          string
	logFormat        string
	writeDHParam     string
	help             bool
}

// parseCLIFlags parses args into a CLIConfig using fs.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}
	def := config.Default()

	fs.StringVar(&cli.configFile, "config", "", "YAML configuration file")

	// Channel
	fs.IntVar(&cli.port, "port", def.Port, "Well-known port for discovery and connections")
	fs.StringVar(&cli.listenHost, "listen", def.ListenHost, "Local address to bind (default: all)")
	fs.StringVar(&cli.channel, "channel", def.Channel, "Channel name (Identity Tag)")
	fs.StringVar(&cli.secret, "secret", "", "Channel secret (default: $"+config.SecretEnv+" or built-in)")
	fs.StringVar(&cli.digest, "digest", def.Digest, "Handshake digest (hmac-sha256, blake2b-256)")

	// Secure channel
	fs.StringVar(&cli.dhparam, "dhparam", def.DHParamFile, "Diffie-Hellman parameter file")
	fs.BoolVar(&cli.allowWeakDH, "allow-weak-dh", def.AllowWeakDH, "Accept DH primes below 2048 bits")

	// Discovery
	fs.StringVar(&cli.discovery, "discovery", def.Discovery, "Discovery mode (broadcast, multicast)")
	fs.DurationVar(&cli.announceInterval, "announce-interval", def.AnnounceInterval, "Re-announce period (0: announce once)")
	fs.Var(&cli.connect, "connect", "Peer to connect to at startup, host[:port] (repeatable)")

	// Files
	fs.StringVar(&cli.downloadDir, "download-dir", def.DownloadDir, "Directory for received files")
	fs.Int64Var(&cli.maxFileSize, "max-file-size", def.MaxFileSize, "Largest file accepted or sent, in bytes")

	// Logging
	fs.StringVar(&cli.logLevel, "log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cli.logFile, "log-file", "", "Log file path (default: stderr)")
	fs.StringVar(&cli.logFormat, "log-format", def.LogFormat, "Log format (text, json)")

	fs.StringVar(&cli.writeDHParam, "write-dhparam", "", "Write a 2048-bit DH parameter file to this path and exit")
	fs.BoolVar(&cli.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cli, nil
}

// buildConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func buildConfig(cli *CLIConfig, fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if cli.configFile != "" {
		if err := cfg.LoadFile(cli.configFile); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = cli.port
		case "listen":
			cfg.ListenHost = cli.listenHost
		case "channel":
			cfg.Channel = cli.channel
		case "secret":
			cfg.Secret = cli.secret
		case "digest":
			cfg.Digest = cli.digest
		case "dhparam":
			cfg.DHParamFile = cli.dhparam
		case "allow-weak-dh":
			cfg.AllowWeakDH = cli.allowWeakDH
		case "discovery":
			cfg.Discovery = cli.discovery
		case "announce-interval":
			cfg.AnnounceInterval = cli.announceInterval
		case "download-dir":
			cfg.DownloadDir = cli.downloadDir
		case "max-file-size":
			cfg.MaxFileSize = cli.maxFileSize
		case "log-level":
			cfg.LogLevel = cli.logLevel
		case "log-file":
			cfg.LogFile = cli.logFile
		case "log-format":
			cfg.LogFormat = cli.logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// peerAddr adds the well-known port to a bare host.
func peerAddr(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(port))
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "dchat - peer-to-peer LAN chat")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  <text>           send a line to every peer")
	fmt.Fprintln(w, "  @<ip> <path>     send a file to one peer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -write-dhparam dhparam.pem\n", fs.Name())
	fmt.Fprintf(w, "  %s -secret hunter2 -download-dir ~/Downloads\n", fs.Name())
}

// setupSignalHandling cancels ctx on interrupt or termination.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\n🛑 Received signal %v, shutting down...\n", sig)
		cancel()
	}()
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cli, err := parseCLIFlags(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		printUsage(stdout, fs)
		return 0
	}
	if err != nil {
		return 2
	}
	if cli.help {
		printUsage(stdout, fs)
		return 0
	}

	if cli.writeDHParam != "" {
		if err := noise.WriteParamsFile(cli.writeDHParam, noise.FFDHE2048()); err != nil {
			fmt.Fprintf(stderr, "❌ Failed to write DH parameters: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "✅ Wrote DH parameters to %s\n", cli.writeDHParam)
		return 0
	}

	cfg, err := buildConfig(cli, fs)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintf(stderr, "Use -help for usage information.\n")
		return 1
	}

	logFile, err := config.SetupLogging(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Logging setup failed: %v\n", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}

	opts := dchat.NewOptions()
	opts.Config = cfg
	opts.Input = stdin
	opts.Output = stdout

	chat, err := dchat.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "❌ Failed to start: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	for _, addr := range cli.connect {
		go func(addr string) {
			if err := chat.Connect(ctx, addr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"addr":     addr,
					"error":    err.Error(),
				}).Warn("Startup connection failed")
			}
		}(peerAddr(addr, cfg.Port))
	}

	fmt.Fprintf(stderr, "🚀 dchat on %s, channel %q\n", chat.Addr(), cfg.Channel)
	if err := chat.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
