// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/filerunner/internal/consumer"
	"github.com/cardinalhq/filerunner/internal/debugging"
	"github.com/cardinalhq/filerunner/internal/events"
	"github.com/cardinalhq/filerunner/internal/healthcheck"
	"github.com/cardinalhq/filerunner/internal/metastore"
	"github.com/cardinalhq/filerunner/internal/notify"
	"github.com/cardinalhq/filerunner/internal/objstore"
	"github.com/cardinalhq/filerunner/internal/processor"
	"github.com/cardinalhq/filerunner/internal/queue"
	"github.com/cardinalhq/filerunner/internal/report"
	"github.com/cardinalhq/filerunner/internal/schedule"
	"github.com/cardinalhq/filerunner/internal/sweeper"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Queue     queue.Config       `mapstructure:"queue"`
	Consumer  consumer.Config    `mapstructure:"consumer"`
	Storage   objstore.Config    `mapstructure:"storage"`
	Events    events.Config      `mapstructure:"events"`
	Processor processor.Config   `mapstructure:"processor"`
	Metastore metastore.Config   `mapstructure:"metastore"`
	Notify    notify.Config      `mapstructure:"notify"`
	Report    report.Config      `mapstructure:"report"`
	Schedule  schedule.Config    `mapstructure:"schedule"`
	Sweeper   sweeper.Config     `mapstructure:"sweeper"`
	Health    healthcheck.Config `mapstructure:"health"`
	Debug     debugging.Config   `mapstructure:"debug"`
}

func defaults() *Config {
	return &Config{
		Queue:     queue.DefaultConfig(),
		Consumer:  consumer.DefaultConfig(),
		Storage:   objstore.DefaultConfig(),
		Events:    events.DefaultConfig(),
		Processor: processor.DefaultConfig(),
		Metastore: metastore.DefaultConfig(),
		Notify:    notify.DefaultConfig(),
		Report:    report.DefaultConfig(),
		Schedule:  schedule.DefaultConfig(),
		Sweeper:   sweeper.DefaultConfig(),
		Health:    healthcheck.DefaultConfig(),
		Debug:     debugging.DefaultConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "FILERUNNER" and the dot character
// in keys is replaced by an underscore. For example, "queue.url" becomes
// "FILERUNNER_QUEUE_URL".
func Load() (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FILERUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that span packages.
func (c *Config) Validate() error {
	if err := c.Consumer.Validate(c.Queue.VisibilityTimeout); err != nil {
		return fmt.Errorf("invalid consumer configuration: %w", err)
	}
	if c.Sweeper.StaleAfter <= c.Consumer.ProcessingTimeout {
		return fmt.Errorf("sweeper.stale_after %s must exceed consumer.processing_timeout %s",
			c.Sweeper.StaleAfter, c.Consumer.ProcessingTimeout)
	}
	if c.Sweeper.Lookback < c.Queue.MessageRetention {
		return fmt.Errorf("sweeper.lookback %s must cover queue.message_retention %s",
			c.Sweeper.Lookback, c.Queue.MessageRetention)
	}
	return nil
}

// ValidateRequeue checks that a sweeper with requeue enabled has a queue
// to send to.  Only the sweeper needs this, so Load does not call it.
func (c *Config) ValidateRequeue() error {
	if !c.Sweeper.Requeue {
		return nil
	}
	switch c.Queue.Backend {
	case queue.BackendSQS:
		if c.Queue.URL == "" {
			return errors.New("sweeper.requeue requires queue.url; set it or disable sweeper.requeue")
		}
	case queue.BackendMemory:
	default:
		return fmt.Errorf("sweeper.requeue: unknown queue backend %q", c.Queue.Backend)
	}
	return nil
}

// YAML renders the effective configuration keyed the same way the
// config file and environment are.
func (c *Config) YAML() ([]byte, error) {
	out := map[string]any{}
	walk(c, func(key []string, val reflect.Value) {
		m := out
		for _, part := range key[:len(key)-1] {
			next, ok := m[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[part] = next
			}
			m = next
		}
		m[key[len(key)-1]] = val.Interface()
	})
	return yaml.Marshal(out)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any) {
	walk(cfg, func(key []string, _ reflect.Value) {
		_ = v.BindEnv(strings.Join(key, "."))
	})
}

func walk(cfg any, fn func(key []string, val reflect.Value), parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			walk(val.Field(i).Interface(), fn, key...)
			continue
		}
		fn(key, val.Field(i))
	}
}
