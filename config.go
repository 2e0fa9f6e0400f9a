package etcdstore

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/bluescreen10/etcdstore/etcdkv"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// TLSConfig holds the client certificate material used to reach the store.
type TLSConfig struct {
	CertFile           string `mapstructure:"certFile"`
	KeyFile            string `mapstructure:"keyFile"`
	CAFile             string `mapstructure:"caFile"`
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"`
}

// Config contains the configuration parameters for a Store.
type Config struct {
	// Hosts are the etcd endpoints used when no client is injected.
	Hosts []string `mapstructure:"hosts"`

	Username string    `mapstructure:"username"`
	Password string    `mapstructure:"password"`
	TLS      TLSConfig `mapstructure:"tls"`

	// DialTimeout bounds connection establishment. Zero selects
	// etcdkv.DefaultDialTimeout.
	DialTimeout time.Duration `mapstructure:"dialTimeout"`

	// Prefix is the key namespace. (default "sess")
	Prefix string `mapstructure:"prefix"`

	// SkipTouch turns Touch into a no-op. (default false)
	SkipTouch bool `mapstructure:"skipTouch"`

	// TTL overrides the lease duration derived from the cookie max age.
	TTL TTL `mapstructure:"ttl"`
}

var ttlType = reflect.TypeOf((*TTL)(nil)).Elem()

// ParseConfig reads a YAML document into a Config.
//
// Example:
//
//	hosts: [10.0.0.1:2379, 10.0.0.2:2379]
//	prefix: sess
//	skipTouch: false
//	ttl: "3600"
//	dialTimeout: 5s
//	tls:
//	  caFile: /etc/etcd/ca.pem
func ParseConfig(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return ConfigFromMap(raw)
}

// ConfigFromMap decodes a generic map, such as one produced by a YAML or
// JSON decoder, into a Config. Durations may be given as strings ("5s"),
// hosts as a comma separated string and ttl as any value accepted by
// ParseTTL.
func ConfigFromMap(raw map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			ttlHook,
		),
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return Config{}, err
	}

	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ttlHook turns raw ttl values into TTL variants.
func ttlHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != ttlType {
		return data, nil
	}
	return ParseTTL(data), nil
}

// etcdConfig maps the connection parameters onto the default client.
func (c Config) etcdConfig() etcdkv.Config {
	return etcdkv.Config{
		Endpoints: c.Hosts,
		Username:  c.Username,
		Password:  c.Password,
		TLS: etcdkv.TLS{
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
			CAFile:             c.TLS.CAFile,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
		DialTimeout: c.DialTimeout,
	}
}

// Option configures the collaborators of a Store.
type Option func(*Store)

// WithLogger sets the logger. (default discards everything)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithRegisterer registers operation metrics with reg. (default none)
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.registerer = reg
	}
}

// WithCodec sets the record codec. (default JSONCodec)
func WithCodec(codec Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}
