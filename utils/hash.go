package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// FileMD5 计算文件MD5
func FileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ParamsDigest 将处理参数拼接后取MD5，用于区分同一图片的不同处理结果
func ParamsDigest(parts ...string) string {
	hash := md5.New()
	hash.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash.Sum(nil))
}
