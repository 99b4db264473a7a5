package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		car:            1,
		canBackend:     "socketcan",
		canIf:          "can0",
		serialDev:      "/dev/ttyUSB0",
		serialBaud:     115200,
		serialReadTO:   50 * time.Millisecond,
		collectorHost:  "127.0.0.1",
		collectorPort:  "7000",
		frameQueueSize: 16,
		spillQueueSize: 16,
		msgsPerFile:    1000,
		spillDir:       "/tmp/spill",
		pollTimeout:    10 * time.Millisecond,
		condTimeout:    time.Second,
		connectTimeout: 5 * time.Second,
		reconDelay:     4 * time.Second,
		logFormat:      "text",
		logLevel:       "info",
		debugTapBuffer: 8,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badCarLow", func(c *appConfig) { c.car = 0 }},
		{"badCarHigh", func(c *appConfig) { c.car = 4 }},
		{"badBackend", func(c *appConfig) { c.canBackend = "x" }},
		{"badLogFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLogLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"emptyHost", func(c *appConfig) { c.collectorHost = "" }},
		{"emptyPort", func(c *appConfig) { c.collectorPort = "" }},
		{"badFrameQueue", func(c *appConfig) { c.frameQueueSize = 0 }},
		{"badSpillQueue", func(c *appConfig) { c.spillQueueSize = 0 }},
		{"badMsgsPerFile", func(c *appConfig) { c.msgsPerFile = 0 }},
		{"emptySpillDir", func(c *appConfig) { c.spillDir = "" }},
		{"badPollTimeout", func(c *appConfig) { c.pollTimeout = 0 }},
		{"badCondTimeout", func(c *appConfig) { c.condTimeout = 0 }},
		{"badConnectTimeout", func(c *appConfig) { c.connectTimeout = 0 }},
		{"badReconDelay", func(c *appConfig) { c.reconDelay = 0 }},
		{"timerWithoutDuration", func(c *appConfig) { c.useTimer = true; c.progDur = 0 }},
		{"badSerialBaud", func(c *appConfig) { c.serialBaud = 0 }},
		{"badSerialReadTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badDebugTapBuffer", func(c *appConfig) { c.debugTapBuffer = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := baseConfig()
			tc.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
		})
	}
}

func TestConfigValidate_NilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatal("expected error for nil config")
	}
}
