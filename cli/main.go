// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	goContext "context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/oracle/oci-network-config/netconfig"
)

// name holds the name of this program
const name = "oci-network-config"

const usage = name + ` keeps the instance network configuration in sync with
its attached VNICs: interface creation, secondary addresses, policy routing
and optional network namespace placement.`

// version is the runtime version. It is set by the build.
var version = ""

// commit is the git commit the binary was built from. It is set by the build.
var commit = ""

// ociLog is the logger used throughout the commands.
var ociLog = logrus.WithField("source", name)

var errRootRequired = errors.New("this command must be run as root")

func makeVersionString() string {
	v := version
	if v == "" {
		v = "unknown"
	}
	c := commit
	if c == "" {
		c = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s)", v, c)
}

var mainFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug output for logging",
	},
	cli.BoolFlag{
		Name:  "quiet, q",
		Usage: "suppress information messages",
	},
	cli.StringFlag{
		Name:  "log",
		Usage: "set the log file path where internal debug information is written",
	},
	cli.StringFlag{
		Name:  "log-format",
		Value: "text",
		Usage: "set the format used by logs ('text' (default), or 'json')",
	},
	cli.StringFlag{
		Name:  "config",
		Usage: "path to the configuration file",
	},
}

// beforeSubcommands configures logging before any command runs.
func beforeSubcommands(context *cli.Context) error {
	if context.GlobalBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else if context.GlobalBool("quiet") {
		logrus.SetLevel(logrus.WarnLevel)
	}

	switch context.GlobalString("log-format") {
	case "text":
		// retain logrus's default.
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00"})
	default:
		return fmt.Errorf("unknown log-format option %q", context.GlobalString("log-format"))
	}

	if path := context.GlobalString("log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0640)
		if err != nil {
			return err
		}
		logrus.SetOutput(f)
	} else if context.GlobalBool("quiet") && !context.GlobalBool("debug") {
		logrus.SetOutput(ioutil.Discard)
	}

	return nil
}

// loadConfig reads the effective configuration for a command invocation.
func loadConfig(context *cli.Context) (netconfig.Config, error) {
	return netconfig.LoadConfig(context.GlobalString("config"))
}

// cliContext is the base context for commands that talk to the metadata
// service.
func cliContext(*cli.Context) goContext.Context {
	return goContext.Background()
}

// checkRoot rejects commands that reconfigure the kernel when run
// unprivileged.
func checkRoot() error {
	if os.Geteuid() != 0 {
		return errRootRequired
	}
	return nil
}

func createApp() *cli.App {
	app := cli.NewApp()
	app.Name = name
	app.Writer = os.Stdout
	app.Usage = usage
	app.Version = makeVersionString()
	app.Flags = mainFlags
	app.EnableBashCompletion = true
	app.Before = beforeSubcommands

	app.Commands = []cli.Command{
		showCLICommand,
		showVnicsCLICommand,
		configureCLICommand,
		unconfigureCLICommand,
		addSecondaryAddrCLICommand,
		removeSecondaryAddrCLICommand,
		versionCLICommand,
	}

	return app
}

func main() {
	app := createApp()

	if err := app.Run(os.Args); err != nil {
		ociLog.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
