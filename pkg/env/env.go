// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	Env string

	once sync.Once
)

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

// AllowsDemoKeys reports whether the built-in demo cipher keys may be used.
// Production deployments must supply their own key material.
func AllowsDemoKeys() bool {
	return !IsProduction()
}

func init() {
	once.Do(func() {
		viper.AutomaticEnv()
		Env = strings.ToLower(viper.GetString("ENV"))
		if Env == "" {
			Env = Local
		}
	})
}
