package data

import (
	"context"
	"os"
	"testing"
	"time"

	"OAuthGuard/internal/conf"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// setupTestDB creates a gorm connection backed by sqlmock
func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock
}

func testLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}

func newTestData(rdb *redis.Client) *Data {
	return &Data{redisClient: rdb, cache: NewCacheClient(rdb)}
}

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	c := &conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  durationpb.New(200 * time.Millisecond),
			WriteTimeout: durationpb.New(200 * time.Millisecond),
		},
	}

	client, cleanup, err := NewRedisClient(c, testLogger())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer cleanup()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, cleanup, err := NewRedisClient(&conf.Data{Redis: &conf.Data_Redis{Addr: addr}}, testLogger())
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_NoConfig(t *testing.T) {
	client, cleanup, err := NewRedisClient(&conf.Data{}, testLogger())
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewData(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	cache := NewCacheClient(rdb)

	d, cleanup, err := NewData(&conf.Data{}, testLogger(), rdb, cache)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, rdb, d.GetRedisClient())
	assert.Equal(t, cache, d.GetCache())
}

func TestNewData_WithoutRedis(t *testing.T) {
	d, cleanup, err := NewData(&conf.Data{}, testLogger(), nil, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, d.GetRedisClient())
}

func TestNewTokenCipher(t *testing.T) {
	_, err := NewTokenCipher(&conf.Auth{Encryption: &conf.Auth_Encryption{Key: "short"}})
	assert.Error(t, err)

	_, err = NewTokenCipher(nil)
	assert.Error(t, err)

	tc, err := NewTokenCipher(&conf.Auth{Encryption: &conf.Auth_Encryption{Key: "12345678901234567890123456789012"}})
	require.NoError(t, err)
	assert.NotNil(t, tc)
}

func TestNewMySQLClient_MissingConfig(t *testing.T) {
	_, _, err := NewMySQLClient(&conf.Data{}, testLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database configuration is required")
}
