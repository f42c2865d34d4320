// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// 管道的每个事件对应一个独立的 Topic。
type KafkaConfig struct {
	Brokers string           `mapstructure:"brokers"`
	GroupID string           `mapstructure:"group_id"`
	Topics  KafkaTopicConfig `mapstructure:"topics"`
}

// KafkaTopicConfig 存储各事件对应的 Topic 名称。
type KafkaTopicConfig struct {
	AudioUploaded   string `mapstructure:"audio_uploaded"`
	PDFUploaded     string `mapstructure:"pdf_uploaded"`
	TextExtracted   string `mapstructure:"text_extracted"`
	ResearchCreated string `mapstructure:"research_created"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
// RawBucket 存放原始上传文件，TextBucket 存放提取后的纯文本产物。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	RawBucket       string `mapstructure:"raw_bucket"`
	TextBucket      string `mapstructure:"text_bucket"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Model 与 Dimensions 是全局常量级配置：检索时的查询向量必须
// 与入库向量来自同一模型和维度空间，否则相似度比较没有意义。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// TranscriptionConfig 存储语音转写模型相关的配置。
type TranscriptionConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// PipelineConfig 存储摄取管道的调优参数。
type PipelineConfig struct {
	ChunkSizeTokens int `mapstructure:"chunk_size_tokens"`
	OverlapTokens   int `mapstructure:"overlap_tokens"`
	EmbedBatchSize  int `mapstructure:"embed_batch_size"`
	InsertBatchSize int `mapstructure:"insert_batch_size"`
	StepRetries     int `mapstructure:"step_retries"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
