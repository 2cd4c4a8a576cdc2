package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Engine 文字识别引擎接口
// 从图片字节中提取文本，识别失败时返回错误由调用方降级处理
type Engine interface {
	// ExtractText 识别图片中的文本
	ExtractText(ctx context.Context, image []byte) (string, error)

	// Name 返回引擎名称
	Name() string
}

// Config 识别引擎配置
type Config struct {
	Binary  string        // tesseract可执行文件路径
	Lang    string        // 识别语言，如 "eng", "chi_sim"
	Timeout time.Duration // 单次识别超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Binary:  "tesseract",
		Lang:    "eng",
		Timeout: 30 * time.Second,
	}
}

// TesseractEngine 基于tesseract命令行工具的识别引擎
type TesseractEngine struct {
	config Config
}

// NewTesseractEngine 创建tesseract识别引擎
func NewTesseractEngine(config Config) *TesseractEngine {
	if config.Binary == "" {
		config.Binary = "tesseract"
	}
	if config.Lang == "" {
		config.Lang = "eng"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &TesseractEngine{config: config}
}

// Name 返回引擎名称
func (e *TesseractEngine) Name() string {
	return "tesseract"
}

// ExtractText 识别图片中的文本
// 图片先写入临时文件，tesseract从stdin读取支持不稳定
func (e *TesseractEngine) ExtractText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image data")
	}

	tmpFile, err := os.CreateTemp("", "ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(image); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// "stdout"让tesseract把结果写到标准输出而不是文件
	cmd := exec.CommandContext(timeoutCtx, e.config.Binary,
		tmpFile.Name(), "stdout", "-l", e.config.Lang)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}
