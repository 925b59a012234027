// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rewriter

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultArchivePacketBudget = 4096
	defaultTimestampCacheSize  = 256
	defaultTimestampFreshness  = 10 * time.Second
	defaultByeReason           = "stream removed"
)

// Config bounds the per-source state the rewriter is allowed to retain.
// Eviction is purely by count/age, memory stays bounded regardless of call
// volume.
type Config struct {
	// total packets covered by a source's archived intervals before the
	// oldest interval is evicted
	ArchivePacketBudget int `yaml:"archive_packet_budget,omitempty"`

	// capacity of the per-source timestamp recency cache
	TimestampCacheSize int `yaml:"timestamp_cache_size,omitempty"`

	// age after which a cached timestamp translation is no longer reused
	TimestampFreshness time.Duration `yaml:"timestamp_freshness,omitempty"`

	// reason string attached to the RTCP BYE emitted when a target SSRC is
	// retired
	ByeReason string `yaml:"bye_reason,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ArchivePacketBudget: defaultArchivePacketBudget,
		TimestampCacheSize:  defaultTimestampCacheSize,
		TimestampFreshness:  defaultTimestampFreshness,
		ByeReason:           defaultByeReason,
	}
}

// withDefaults fills zero-valued fields so a partially populated or
// zero-value Config is usable as is.
func (c Config) withDefaults() Config {
	if c.ArchivePacketBudget <= 0 {
		c.ArchivePacketBudget = defaultArchivePacketBudget
	}
	if c.TimestampCacheSize <= 0 {
		c.TimestampCacheSize = defaultTimestampCacheSize
	}
	if c.TimestampFreshness <= 0 {
		c.TimestampFreshness = defaultTimestampFreshness
	}
	if c.ByeReason == "" {
		c.ByeReason = defaultByeReason
	}
	return c
}

func NewConfig(confString string) (Config, error) {
	conf := DefaultConfig()
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), &conf); err != nil {
			return conf, errors.Wrap(err, "could not parse rewriter config")
		}
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.ArchivePacketBudget <= 0 {
		return errors.New("archive_packet_budget must be positive")
	}
	if c.TimestampCacheSize <= 0 {
		return errors.New("timestamp_cache_size must be positive")
	}
	if c.TimestampFreshness <= 0 {
		return errors.New("timestamp_freshness must be positive")
	}
	return nil
}
