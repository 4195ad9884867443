package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_ContainsUsersMigration(t *testing.T) {
	t.Parallel()

	b, err := fs.ReadFile(FS, "00001_users.sql")
	require.NoError(t, err)

	sql := string(b)
	require.Contains(t, sql, "-- +goose Up")
	require.Contains(t, sql, "-- +goose Down")
	// repository error mapping depends on these names
	require.Contains(t, sql, "users_email_key")
	require.Contains(t, sql, "users_username_key")
	require.True(t, strings.Contains(sql, "is_active"))
}
