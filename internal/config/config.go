// Package config declares the kong command tree for the dsud binary.
package config

import (
	"github.com/dualsense-tools/dsud/internal/cmd"
)

// LogConfig groups the logging flags shared by every command.
type LogConfig struct {
	Level   string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"DSUD_LOG_LEVEL"`
	File    string `help:"Also write logs to this file" env:"DSUD_LOG_FILE"`
	RawFile string `help:"Write raw HID report hex dumps to this file" env:"DSUD_LOG_RAW_FILE"`
}

// CLI is the root command structure parsed by kong.
type CLI struct {
	Config string    `help:"Path to a configuration file" env:"DSUD_CONFIG"`
	Log    LogConfig `embed:"" prefix:"log."`

	Server cmd.Server        `cmd:"" default:"withargs" help:"Run the controller daemon"`
	Cfg    cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration utilities"`
}
