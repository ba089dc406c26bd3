package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers         []string
	EventsTopic     string
	InvitationTopic string
	Partitions      int
	Producer        ProducerConfig
}

// ProducerConfig конфигурация для продюсера
type ProducerConfig struct {
	MaxMessageBytes int
	Compression     sarama.CompressionCodec
	RequiredAcks    sarama.RequiredAcks
	Timeout         time.Duration
	RetryMax        int
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string, eventsTopic, invitationTopic string, partitions int) *Config {
	if partitions <= 0 {
		partitions = 1
	}
	return &Config{
		Brokers:         brokers,
		EventsTopic:     eventsTopic,
		InvitationTopic: invitationTopic,
		Partitions:      partitions,
		Producer: ProducerConfig{
			MaxMessageBytes: 1000000,
			Compression:     sarama.CompressionSnappy,
			RequiredAcks:    sarama.WaitForAll,
			Timeout:         5 * time.Second,
			RetryMax:        3,
		},
	}
}

// Topics - все топики сервиса
func (c *Config) Topics() []string {
	return []string{c.EventsTopic, c.InvitationTopic}
}

// NewSaramaConfig создает новую конфигурацию Sarama
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "billing-service"

	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Timeout = cfg.Producer.Timeout
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Idempotent = false
	// ключ - id компании: события одной компании идут в одну партицию
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 2

	return saramaConfig
}
