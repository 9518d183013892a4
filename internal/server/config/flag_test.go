package config

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/flagx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-g", ":6000", "-d", "db", "-s", "secret", "-l", "debug",
				"-storage", "s3", "-gate", "redis", "-redis", "r:6379", "-i", "3s", "-r", "2m", "-m", "5MB",
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "127.0.0.1:9090", c.HTTPAddr)
				assert.Equal(t, ":6000", c.GRPCAddr)
				assert.Equal(t, "db", c.DatabaseDSN)
				assert.Equal(t, "secret", c.SecretKey)
				assert.Equal(t, "debug", c.LogLevel)
				assert.Equal(t, "s3", c.Storage.Backend)
				assert.Equal(t, "redis", c.Gate.Type)
				assert.Equal(t, "r:6379", c.Gate.RedisAddr)
				assert.Equal(t, 3*time.Second, c.Coordinator.Interval.D())
				assert.Equal(t, 2*time.Minute, c.ReconcileInterval.D())
				assert.Equal(t, flagx.Size(5<<20), c.MaxRequestSize)
			},
		},
		{
			name: "foreign flags are ignored",
			args: []string{"-c", "conf.json", "-x", "1", "--verbose", "-a", ":1"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ":1", c.HTTPAddr)
				assert.Equal(t, "memory", c.DatabaseDSN)
			},
		},
		{name: "bad duration", args: []string{"-i", "often"}, wantErr: true},
		{name: "bad size", args: []string{"-m", "lots"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()

			err := parseFlags(&c, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, &c)
		})
	}
}
