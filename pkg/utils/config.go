package utils

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges <configFileName>.{yaml,json,toml} into the global viper
// instance and enables environment overrides (db.dsn -> DB_DSN). It returns false when
// no file was found and the file is optional.
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.blobgate")
	viper.AddConfigPath("/etc/blobgate/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				log.Fatal().Msgf("config file not found: %s", configFileName)
			}
			log.Info().Msgf("config file not found: %s", configFileName)
			return false
		}
		if required {
			log.Fatal().Err(err).Msgf("failed to load required config file: %s", configFileName)
		}
		log.Warn().Err(err).Msgf("failed to load config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("loaded config file: %s", viper.ConfigFileUsed())

	return true
}

// ResolvePath expands ~ and environment variables and makes path absolute.
func ResolvePath(path string) string {
	if path == "" {
		return "."
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, strings.TrimPrefix(path[1:], "/"))
		}
	}

	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
