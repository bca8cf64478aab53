package redis

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// setupMock 回傳 redismock 客戶端，cleanup 會檢查所有預期的指令都已執行
func setupMock(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupServer 啟動 miniredis，cleanup 需在 goleak 檢查之前呼叫
func setupServer(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client, func() {
		client.Close()
		mr.Close()
	}
}
