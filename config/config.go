package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	WebSearch WebSearchConfig `mapstructure:"websearch"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Document  DocumentConfig  `mapstructure:"document"`
	Search    SearchConfig    `mapstructure:"search"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"` // 服务器主机
	Port int    `mapstructure:"port"` // 服务器端口
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// VectorDBConfig 向量索引配置
type VectorDBConfig struct {
	Type     string `mapstructure:"type"`     // 索引类型：memory 或 faiss
	Path     string `mapstructure:"path"`     // 索引持久化路径，留空表示仅驻留内存
	Dim      int    `mapstructure:"dim"`      // 向量维度
	Distance string `mapstructure:"distance"` // 距离度量方式：cosine 或 dot
}

// LLMConfig 生成模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`    // 提供商：ollama 或 openai
	Model       string        `mapstructure:"model"`       // 模型名称
	APIKey      string        `mapstructure:"api_key"`     // API密钥（openai时必填）
	Endpoint    string        `mapstructure:"endpoint"`    // API端点
	MaxTokens   int           `mapstructure:"max_tokens"`  // 最大生成token数量
	Temperature float32       `mapstructure:"temperature"` // 采样温度
	Timeout     time.Duration `mapstructure:"timeout"`     // 单次生成调用超时
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider"`   // 提供商：ollama 或 openai
	Model      string        `mapstructure:"model"`      // 模型名称
	APIKey     string        `mapstructure:"api_key"`    // API密钥（如果需要）
	Endpoint   string        `mapstructure:"endpoint"`   // API端点
	BatchSize  int           `mapstructure:"batch_size"` // 批处理大小
	Dimensions int           `mapstructure:"dimensions"` // 向量维度
	Timeout    time.Duration `mapstructure:"timeout"`    // 单次嵌入调用超时
}

// OCRConfig OCR引擎配置
type OCRConfig struct {
	Enable  bool          `mapstructure:"enable"`  // 是否启用OCR
	Binary  string        `mapstructure:"binary"`  // tesseract可执行文件路径
	Lang    string        `mapstructure:"lang"`    // 识别语言
	Timeout time.Duration `mapstructure:"timeout"` // 单次识别超时
}

// WebSearchConfig 联网搜索配置
type WebSearchConfig struct {
	Enable     bool          `mapstructure:"enable"`      // 是否启用联网搜索
	Endpoint   string        `mapstructure:"endpoint"`    // 搜索API端点
	MaxResults int           `mapstructure:"max_results"` // 最大返回结果数
	Timeout    time.Duration `mapstructure:"timeout"`     // 单次搜索超时
}

// CacheConfig 问答缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 异步摄取任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	MaxChars int `mapstructure:"max_chars"` // 单个分块的最大字符数
}

// SearchConfig 检索配置
type SearchConfig struct {
	TopK     int     `mapstructure:"top_k"`     // 检索返回的段落数量
	MinScore float32 `mapstructure:"min_score"` // 最低相似度分数（0表示不过滤）
}

// SessionConfig 会话管理配置
type SessionConfig struct {
	MaxTurns int `mapstructure:"max_turns"` // 对话记忆的最大轮数（0表示不限制）
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	// 尝试读取配置文件，找不到时回退到默认值
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	return expandEnvSecrets(&config), nil
}

// expandEnvSecrets 将 ${VAR} 形式的密钥配置替换为环境变量的值
func expandEnvSecrets(cfg *Config) *Config {
	cfg.Embed.APIKey = expandEnv(cfg.Embed.APIKey)
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Storage.SecretKey = expandEnv(cfg.Storage.SecretKey)
	return cfg
}

// expandEnv 处理单个 ${VAR} 占位符
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
			return envVal
		}
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/uploads")
	v.SetDefault("storage.bucket", "research-assistant")
	v.SetDefault("storage.use_ssl", false)

	// 向量索引默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.path", "") // 留空表示不持久化
	v.SetDefault("vectordb.dim", 768) // nomic-embed-text 维度
	v.SetDefault("vectordb.distance", "cosine")

	// LLM默认配置
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "deepseek-r1:32b")
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", "120s")

	// Embedding默认配置
	v.SetDefault("embed.provider", "ollama")
	v.SetDefault("embed.model", "nomic-embed-text")
	v.SetDefault("embed.endpoint", "http://localhost:11434")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.dimensions", 768)
	v.SetDefault("embed.timeout", "30s")

	// OCR默认配置
	v.SetDefault("ocr.enable", true)
	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.timeout", "30s")

	// 联网搜索默认配置
	v.SetDefault("websearch.enable", true)
	v.SetDefault("websearch.endpoint", "https://api.duckduckgo.com")
	v.SetDefault("websearch.max_results", 3)
	v.SetDefault("websearch.timeout", "10s")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600)

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/assistant.db")

	// 文档处理默认配置
	v.SetDefault("document.max_chars", 800)

	// 检索默认配置
	v.SetDefault("search.top_k", 3)
	v.SetDefault("search.min_score", 0.0)

	// 会话默认配置
	v.SetDefault("session.max_turns", 0) // 默认不限制对话记忆长度
}
