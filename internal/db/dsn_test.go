package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	cases := []struct {
		dsn, driver, source string
	}{
		{"sqlite:///var/lib/trips.db", DriverSQLite, "/var/lib/trips.db"},
		{"sqlite://trips.db", DriverSQLite, "trips.db"},
		{"file:trips.db?cache=shared", DriverSQLite, "file:trips.db?cache=shared"},
		{"/tmp/trips.sqlite", DriverSQLite, "/tmp/trips.sqlite"},
		{"postgres://u:p@localhost:5432/trips?sslmode=disable", DriverPgx, "postgres://u:p@localhost:5432/trips?sslmode=disable"},
		{"postgresql://localhost/trips", DriverPgx, "postgresql://localhost/trips"},
		{"host=localhost dbname=trips", DriverPgx, "host=localhost dbname=trips"},
	}
	for _, tc := range cases {
		t.Run(tc.dsn, func(t *testing.T) {
			driver, source, err := ParseDSN(tc.dsn)
			require.NoError(t, err)
			assert.Equal(t, tc.driver, driver)
			assert.Equal(t, tc.source, source)
		})
	}

	for _, bad := range []string{"", "   ", "sqlite://", "mysql-ish"} {
		_, _, err := ParseDSN(bad)
		assert.Error(t, err, bad)
	}
}

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://u@localhost:5432/postgres?sslmode=disable", "trips")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@localhost:5432/trips?sslmode=disable", got)

	got, err = WithDBName("u@localhost/other", "/trips")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@localhost/trips", got)

	_, err = WithDBName("", "trips")
	assert.Error(t, err)
	_, err = WithDBName("sqlite://x.db", "trips")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: DriverPgx}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{Driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}
