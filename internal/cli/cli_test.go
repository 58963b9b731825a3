package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedDoc = `
providers:
  - name: primary
    min_interval_seconds: 60
    max_interval_seconds: 120
    accounts:
      - email: jane.doe@example.com
        transport: dummy
recipients:
  - first_name: Ada
    email: ada@example.org
campaigns:
  - name: launch
    status: Active
    steps:
      - subject: Hello {first_name}
        body: Hi {first_name}
    recipients: [ada@example.org]
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--db-driver", "memory", "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedDoc), 0o600))
	return path
}

func TestSeedDryRun(t *testing.T) {
	out, err := run(t, "seed", "--file", writeSeed(t), "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 providers, 1 recipients, 1 campaigns")
}

func TestSeedApply(t *testing.T) {
	out, err := run(t, "seed", "-f", writeSeed(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 1 providers, 1 accounts, 1 recipients, 1 campaigns (1 enrollments)")
}

func TestSeedRequiresFile(t *testing.T) {
	_, err := run(t, "seed")
	assert.Error(t, err)
}

func TestDistributeWithoutAccounts(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		_, err := run(t, "distribute")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--force")
	})

	t.Run("forced", func(t *testing.T) {
		out, err := run(t, "distribute", "--force")
		require.NoError(t, err)
		assert.Contains(t, out, "Queued 0 emails")
	})
}

func TestPurgeEmptyStore(t *testing.T) {
	out, err := run(t, "purge", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 queue items older than 7 days")
}

func TestGmailTokenNeedsCredentials(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "")
	t.Setenv("GMAIL_CLIENT_SECRET", "")
	_, err := run(t, "gmail-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GMAIL_CLIENT_ID")
}
