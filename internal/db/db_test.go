package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   int
	Name string
}

func TestNewDatabaseSQLite(t *testing.T) {
	database, err := NewDatabase(context.Background(), Options{
		DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.AutoMigrate(&widget{}))
	require.NoError(t, database.Gorm.Create(&widget{Name: "a"}).Error)
	assert.NoError(t, database.Ping(context.Background()))

	var count int64
	require.NoError(t, database.Gorm.Model(&widget{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestNewDatabaseRequiresDSN(t *testing.T) {
	_, err := NewDatabase(context.Background(), Options{})
	assert.Error(t, err)
}
