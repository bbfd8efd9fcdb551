package cmd

import (
	"errors"
	"github.com/arcward/clanbot/clanbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockPasswordReader returns each of the given secrets in turn
func mockPasswordReader(t testing.TB, secrets ...string) {
	t.Helper()
	idx := 0
	customPasswordReader = func() ([]byte, error) {
		if idx >= len(secrets) {
			return nil, errors.New("no more input")
		}
		s := secrets[idx]
		idx++
		return []byte(s), nil
	}
	t.Cleanup(
		func() {
			customPasswordReader = nil
		},
	)
}

func setupCommandDB(t testing.TB) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("CB_DATABASE_TYPE", "sqlite")
	t.Setenv("CB_DATABASE", dbPath)
	return dbPath
}

func openCommandDB(t testing.TB, dbPath string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func TestInitCommand(t *testing.T) {
	dbPath := setupCommandDB(t)
	mockPasswordReader(t, "wrong", "mismatch", "s3cret-token", "s3cret-token")

	t.Cleanup(func() { rootCmd.SetIn(os.Stdin) })
	rootCmd.SetIn(strings.NewReader("monitoring\n"))
	out := captureOutput(t)

	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	_, err := os.Stat(dbPath)
	require.NoError(t, err, "database file should exist")

	output := out.String()
	assert.Contains(t, output, "Enter a name for the API token")
	assert.Contains(t, output, "Tokens are empty or do not match")
	assert.Contains(t, output, `API token "monitoring" saved.`)
	assert.Contains(t, output, "Initialization complete")

	db := openCommandDB(t, dbPath)

	var cred clanbot.APICredential
	require.NoError(t, db.Where("name = ?", "monitoring").First(&cred).Error)
	assert.NotEqual(t, "s3cret-token", cred.TokenHash)

	valid, err := clanbot.VerifyToken(cred.TokenHash, "s3cret-token")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = clanbot.VerifyToken(cred.TokenHash, "wrong")
	require.NoError(t, err)
	assert.False(t, valid)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&clanbot.ClanSystem{}))
	assert.True(t, mg.HasTable(&clanbot.Clan{}))
	assert.True(t, mg.HasTable(&clanbot.InteractionLog{}))
	assert.True(t, mg.HasTable(&clanbot.APICredential{}))
}

func TestInitCommand_ExistingCredential(t *testing.T) {
	setupCommandDB(t)
	mockPasswordReader(t, "first", "first")

	t.Cleanup(func() { rootCmd.SetIn(os.Stdin) })
	rootCmd.SetIn(strings.NewReader("\n"))
	_ = captureOutput(t)
	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	// no secrets left to read, so a second prompt would fail
	mockPasswordReader(t)
	rootCmd.SetIn(strings.NewReader("\n"))
	out := captureOutput(t)
	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), `API token "default" already exists.`)
}
