package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkNamespace 派生默认分块 ID 的 UUIDv5 命名空间.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://gatekeeper.dev/document-chunk"))

// NormalizeText 折叠连续空白并去除首尾空白.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TextHash 返回规范化文本的 SHA-256 十六进制摘要.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// DefaultChunkID 为未指定 ID 的分块生成稳定 ID, 同一文档同一位置总是相同.
func DefaultChunkID(sourceDocumentID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(sourceDocumentID+":"+strconv.Itoa(chunkIndex))).String()
}

// timeZero 作为首次写入时 storeNow 的参数.
var timeZero time.Time

// storeNow 返回毫秒精度的 UTC 时间, 保证严格晚于 prev.
// 各后端统一到毫秒, Mongo 不保存更高精度.
func storeNow(prev time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !prev.IsZero() && !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}
