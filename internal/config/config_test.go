package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Scheduler: SchedulerConfig{
			QueueLimit:        100,
			DistributionLimit: 100,
			PurgeDays:         30,
		},
		Queue: QueueConfig{
			Workers:      2,
			MaxPerSecond: 1,
			Burst:        1,
		},
		Distribution: DistributionConfig{
			DefaultSelectionPolicy: "weighted_usage",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":   func(c *Config) { c.Database.Driver = "oracle" },
		"missing db host":  func(c *Config) { c.Database.Host = "" },
		"zero queue limit": func(c *Config) { c.Scheduler.QueueLimit = 0 },
		"zero purge days":  func(c *Config) { c.Scheduler.PurgeDays = 0 },
		"zero workers":     func(c *Config) { c.Queue.Workers = 0 },
		"zero rate":        func(c *Config) { c.Queue.MaxPerSecond = 0 },
		"unknown policy":   func(c *Config) { c.Distribution.DefaultSelectionPolicy = "round_robin" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestMemoryDriverSkipsDatabaseCredentials(t *testing.T) {
	c := validConfig()
	c.Database = DatabaseConfig{Driver: "memory"}
	assert.NoError(t, c.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, config.GetDSN())

	config.Driver = "postgres"
	config.Port = 5432
	config.SSLMode = "disable"
	assert.Equal(t, "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable", config.GetDSN())
}
