package models

import (
	"github.com/google/uuid"
)

// assignID 在寫入前產生 UUIDv7，讓主鍵依建立時間排序
func assignID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v7
	return nil
}

// All 回傳所有需要建立資料表的模型，供 AutoMigrate 與 atlas 使用
func All() []any {
	return []any{
		&User{},
		&Category{},
		&Item{},
		&Bid{},
		&PickupPlace{},
		&Image{},
	}
}
