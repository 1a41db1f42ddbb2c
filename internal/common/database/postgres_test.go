package database

import (
	"context"
	stderrors "errors"
	"testing"

	"camunda-discovery/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgres_OpensLazily(t *testing.T) {
	client, err := NewPostgres(config.PostgresConfig{
		Host: "127.0.0.1", Port: 1, Database: "history", User: "u", SSLMode: "disable",
		MaxConnections: 3, MaxIdle: 1,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, client.DB.Stats().MaxOpenConnections)
}

func TestPostgresClient_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	client := &PostgresClient{DB: db}

	mock.ExpectPing()
	require.NoError(t, client.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(stderrors.New("connection refused"))
	err = client.Ping(context.Background())
	assert.ErrorContains(t, err, "postgres ping failed")

	mock.ExpectClose()
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDSN(t *testing.T) {
	cfg := config.PostgresConfig{Host: "db", Port: 5432, User: "discovery", Password: "secret", Database: "history", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=discovery password=secret dbname=history sslmode=require", cfg.GetDSN())
}
