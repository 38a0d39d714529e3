package common

import (
	"github.com/google/uuid"
)

// BytesPerMB 1 MB = 1024*1024 bytes
const BytesPerMB = 1024 * 1024

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// BytesToMB 位元組換算為 MB
func BytesToMB(n int64) float64 {
	return float64(n) / BytesPerMB
}
