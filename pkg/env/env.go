// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package env names the deployment environment blobgate runs in.
package env

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

// Current returns the deployment environment from the ENV setting or variable,
// defaulting to local.
func Current() string {
	e := viper.GetString("ENV")
	if e == "" {
		e = os.Getenv("ENV")
	}
	if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
		return e
	}
	return Local
}

func IsLocal() bool {
	return Current() == Local
}

func IsProduction() bool {
	return Current() == Production
}
