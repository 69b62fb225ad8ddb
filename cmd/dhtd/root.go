package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dhtcode-go/services/hal"
)

var (
	cfgFile  string
	v        = viper.New()
	settings Settings
	log      = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "dhtd",
	Short: "DHT11/DHT22 sensor daemon",
	Long: `dhtd reads DHT11/DHT22-family sensors over a GPIO line, or frame lines
from a microcontroller on a serial port, and forwards the readings to MQTT,
Redis or Prometheus.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		s, err := loadSettings(v)
		if err != nil {
			return err
		}
		settings = s
		return setupLogging(s.LogLevel)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is dhtd.yaml)")
	pf.String("backend", "sim", "GPIO backend, one of ["+strings.Join(hal.Backends(), ", ")+"]")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("listen", ":9109", "metrics listen address; empty disables")

	_ = v.BindPFlag("backend", pf.Lookup("backend"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("listen", pf.Lookup("listen"))

	rootCmd.AddCommand(runCmd, readCmd, ingestCmd, configCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	setDefaults(v)
	v.SetEnvPrefix("DHTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("dhtd")
		v.AddConfigPath("/etc/dhtd/")
		v.AddConfigPath("$HOME/.dhtd/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config")
		}
	}
	return nil
}

func setupLogging(level string) error {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log_level")
	}
	log.SetLevel(lvl)
	if f := v.ConfigFileUsed(); f != "" {
		log.WithField("file", f).Debug("using config file")
	}
	return nil
}
