package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-relay-go/internal/config"
)

func TestDialector(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "localhost", Port: 5432, User: "u", DBName: "outreach", SSLMode: "disable"}

	for driver, name := range map[string]string{"postgres": "postgres", "mysql": "mysql", "": "mysql"} {
		cfg.Driver = driver
		d, err := Dialector(cfg)
		require.NoError(t, err, driver)
		assert.Equal(t, name, d.Name())
	}

	cfg.Driver = "sqlite"
	_, err := Dialector(cfg)
	assert.Error(t, err)
}
