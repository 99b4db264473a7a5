package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds every option SPEC_FULL.md §6 names: spec.md's
// original list (CAR, CAN_IF, TCP_IP/TCP_PORT, Q_FRAME/Q_SPILL,
// MSGS_PER_FILE, SPILL_DIR, T_POLL, COND_TIMEOUT, RECON_DELAY,
// USE_TIMER/PROG_DUR, USE_TCP_NODELAY, PRINT_MSG/DEBUG_COND) plus the
// ambient/domain additions (CAN_BACKEND, SERIAL_DEV/SERIAL_BAUD,
// LOG_FORMAT/LOG_LEVEL, METRICS_ADDR, DEBUG_TAP_ADDR/DEBUG_TAP_BUFFER,
// MDNS_ENABLE/MDNS_NAME).
type appConfig struct {
	car int

	canBackend   string
	canIf        string
	serialDev    string
	serialBaud   int
	serialReadTO time.Duration

	collectorHost string
	collectorPort string

	frameQueueSize int
	spillQueueSize int
	msgsPerFile    int
	spillDir       string

	pollTimeout    time.Duration
	condTimeout    time.Duration
	connectTimeout time.Duration
	reconDelay     time.Duration
	useTimer    bool
	progDur     time.Duration
	tcpNoDelay  bool
	printMsg    bool
	debugCond   bool

	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration

	metricsAddr    string
	debugTapAddr   string
	debugTapBuffer int

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}

	car := flag.Int("car", 1, "Car number tagged on every formatted line (1-3)")
	canBackend := flag.String("can-backend", "socketcan", "CAN ingestion backend: socketcan|serial")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --can-backend=socketcan)")
	serialDev := flag.String("serial-dev", "/dev/ttyUSB0", "Serial device path (when --can-backend=serial)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")

	collectorHost := flag.String("collector-host", "127.0.0.1", "Collector TCP host (TCP_IP)")
	collectorPort := flag.String("collector-port", "7000", "Collector TCP port (TCP_PORT)")

	frameQueueSize := flag.Int("frame-queue-size", 256, "Frame Queue capacity (Q_FRAME)")
	spillQueueSize := flag.Int("spill-queue-size", 256, "Spill Queue capacity (Q_SPILL)")
	msgsPerFile := flag.Int("msgs-per-file", 250000, "Lines per spill file before rotation (MSGS_PER_FILE)")
	spillDir := flag.String("spill-dir", "/var/lib/telemetry-agent/spill", "Spill file directory (SPILL_DIR)")

	pollTimeout := flag.Duration("poll-timeout", 10*time.Millisecond, "Live-send poll timeout (T_POLL)")
	condTimeout := flag.Duration("cond-timeout", time.Second, "Uploader bounded wait for a connected client (COND_TIMEOUT)")
	connectTimeout := flag.Duration("connect-timeout", 5*time.Second, "Dial timeout for the Supervisor's connect/reconnect attempts")
	reconDelay := flag.Duration("recon-delay", 4*time.Second, "Supervisor reconnect poll interval (RECON_DELAY)")
	useTimer := flag.Bool("use-timer", false, "Enable the self-terminate program duration timer (USE_TIMER)")
	progDur := flag.Duration("prog-duration", 0, "Self-terminate after this duration when --use-timer is set (PROG_DUR)")
	tcpNoDelay := flag.Bool("tcp-nodelay", true, "Set TCP_NODELAY on both TCP clients (USE_TCP_NODELAY)")
	printMsg := flag.Bool("print-msg", false, "Log every formatted line at debug level (PRINT_MSG)")
	debugCond := flag.Bool("debug-cond", false, "Log verbose condition-wait/backpressure events (DEBUG_COND)")

	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")

	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	debugTapAddr := flag.String("debug-tap-addr", "", "Local debug-tap TCP listen address; empty disables")
	debugTapBuffer := flag.Int("debug-tap-buffer", 256, "Per-client debug-tap buffer (lines)")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the metrics/debug-tap endpoints")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default telemetry-agent-<hostname>)")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.car = *car
	cfg.canBackend = *canBackend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.serialBaud = *serialBaud
	cfg.serialReadTO = *serialReadTO
	cfg.collectorHost = *collectorHost
	cfg.collectorPort = *collectorPort
	cfg.frameQueueSize = *frameQueueSize
	cfg.spillQueueSize = *spillQueueSize
	cfg.msgsPerFile = *msgsPerFile
	cfg.spillDir = *spillDir
	cfg.pollTimeout = *pollTimeout
	cfg.condTimeout = *condTimeout
	cfg.connectTimeout = *connectTimeout
	cfg.reconDelay = *reconDelay
	cfg.useTimer = *useTimer
	cfg.progDur = *progDur
	cfg.tcpNoDelay = *tcpNoDelay
	cfg.printMsg = *printMsg
	cfg.debugCond = *debugCond
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.metricsAddr = *metricsAddr
	cfg.debugTapAddr = *debugTapAddr
	cfg.debugTapBuffer = *debugTapBuffer
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation only; it never touches the
// filesystem or network.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.car < 1 || c.car > 3 {
		return fmt.Errorf("car must be 1-3 (got %d)", c.car)
	}
	switch c.canBackend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid can-backend: %s", c.canBackend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.collectorHost == "" {
		return errors.New("collector-host must not be empty")
	}
	if c.collectorPort == "" {
		return errors.New("collector-port must not be empty")
	}
	if c.frameQueueSize <= 0 {
		return fmt.Errorf("frame-queue-size must be > 0 (got %d)", c.frameQueueSize)
	}
	if c.spillQueueSize <= 0 {
		return fmt.Errorf("spill-queue-size must be > 0 (got %d)", c.spillQueueSize)
	}
	// MSGS_PER_FILE must be a positive integer: resolves spec.md §9's
	// third open question.
	if c.msgsPerFile <= 0 {
		return fmt.Errorf("msgs-per-file must be > 0 (got %d)", c.msgsPerFile)
	}
	if c.spillDir == "" {
		return errors.New("spill-dir must not be empty")
	}
	if c.pollTimeout <= 0 {
		return errors.New("poll-timeout must be > 0")
	}
	if c.condTimeout <= 0 {
		return errors.New("cond-timeout must be > 0")
	}
	if c.connectTimeout <= 0 {
		return errors.New("connect-timeout must be > 0")
	}
	if c.reconDelay <= 0 {
		return errors.New("recon-delay must be > 0")
	}
	if c.useTimer && c.progDur <= 0 {
		return errors.New("prog-duration must be > 0 when use-timer is set")
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.debugTapBuffer <= 0 {
		return fmt.Errorf("debug-tap-buffer must be > 0 (got %d)", c.debugTapBuffer)
	}
	return nil
}

// applyEnvOverrides maps TELEMETRY_AGENT_* environment variables onto
// cfg, unless the corresponding flag was explicitly set (flags always
// win). Mirrors the teacher repo's CAN_SERVER_* convention.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	reportErr := func(name string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	strVar := func(flagName, envName string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(envName); ok {
			*dst = v
		}
	}
	intVar := func(flagName, envName string, dst *int, allowZero bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(envName)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			reportErr(envName, err)
			return
		}
		if n < 0 || (n == 0 && !allowZero) {
			reportErr(envName, fmt.Errorf("must be > 0, got %d", n))
			return
		}
		*dst = n
	}
	durVar := func(flagName, envName string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(envName)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			reportErr(envName, err)
			return
		}
		*dst = d
	}
	boolVar := func(flagName, envName string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(envName)
		if !ok || v == "" {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	intVar("car", "TELEMETRY_AGENT_CAR", &c.car, false)
	strVar("can-backend", "TELEMETRY_AGENT_CAN_BACKEND", &c.canBackend)
	strVar("can-if", "TELEMETRY_AGENT_CAN_IF", &c.canIf)
	strVar("serial-dev", "TELEMETRY_AGENT_SERIAL_DEV", &c.serialDev)
	intVar("serial-baud", "TELEMETRY_AGENT_SERIAL_BAUD", &c.serialBaud, false)
	durVar("serial-read-timeout", "TELEMETRY_AGENT_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	strVar("collector-host", "TELEMETRY_AGENT_TCP_IP", &c.collectorHost)
	strVar("collector-port", "TELEMETRY_AGENT_TCP_PORT", &c.collectorPort)
	intVar("frame-queue-size", "TELEMETRY_AGENT_Q_FRAME", &c.frameQueueSize, false)
	intVar("spill-queue-size", "TELEMETRY_AGENT_Q_SPILL", &c.spillQueueSize, false)
	intVar("msgs-per-file", "TELEMETRY_AGENT_MSGS_PER_FILE", &c.msgsPerFile, false)
	strVar("spill-dir", "TELEMETRY_AGENT_SPILL_DIR", &c.spillDir)
	durVar("poll-timeout", "TELEMETRY_AGENT_T_POLL", &c.pollTimeout)
	durVar("cond-timeout", "TELEMETRY_AGENT_COND_TIMEOUT", &c.condTimeout)
	durVar("connect-timeout", "TELEMETRY_AGENT_CONNECT_TIMEOUT", &c.connectTimeout)
	durVar("recon-delay", "TELEMETRY_AGENT_RECON_DELAY", &c.reconDelay)
	boolVar("use-timer", "TELEMETRY_AGENT_USE_TIMER", &c.useTimer)
	durVar("prog-duration", "TELEMETRY_AGENT_PROG_DUR", &c.progDur)
	boolVar("tcp-nodelay", "TELEMETRY_AGENT_USE_TCP_NODELAY", &c.tcpNoDelay)
	boolVar("print-msg", "TELEMETRY_AGENT_PRINT_MSG", &c.printMsg)
	boolVar("debug-cond", "TELEMETRY_AGENT_DEBUG_COND", &c.debugCond)
	strVar("log-format", "TELEMETRY_AGENT_LOG_FORMAT", &c.logFormat)
	strVar("log-level", "TELEMETRY_AGENT_LOG_LEVEL", &c.logLevel)
	durVar("log-metrics-interval", "TELEMETRY_AGENT_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	strVar("metrics-addr", "TELEMETRY_AGENT_METRICS_ADDR", &c.metricsAddr)
	strVar("debug-tap-addr", "TELEMETRY_AGENT_DEBUG_TAP_ADDR", &c.debugTapAddr)
	intVar("debug-tap-buffer", "TELEMETRY_AGENT_DEBUG_TAP_BUFFER", &c.debugTapBuffer, false)
	boolVar("mdns-enable", "TELEMETRY_AGENT_MDNS_ENABLE", &c.mdnsEnable)
	strVar("mdns-name", "TELEMETRY_AGENT_MDNS_NAME", &c.mdnsName)

	return firstErr
}
