package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// EnsureTopics проверяет и создает топики сервиса через контроллер кластера
func EnsureTopics(ctx context.Context, cfg *Config, log *logger.Logger) error {
	required := make(map[string]kafkaGo.TopicConfig, len(cfg.Topics()))
	for _, topic := range cfg.Topics() {
		if topic == "" {
			continue
		}
		required[topic] = kafkaGo.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: 1,
		}
	}

	log.Infow("Ensuring Kafka topics exist...", "topics", topicNames(required))

	if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Brokers[0]) == "" {
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(cfg.Brokers[0])
	if _, port, err := net.SplitHostPort(broker); err != nil {
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	} else if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialContext(dialCtx, "tcp", broker)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", broker, "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	// Топики создает только контроллер
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafkaGo.DialContext(dialCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer ctrlConn.Close()
	log.Debugw("Connected to Kafka controller", "address", ctrlAddr)

	partitions, err := ctrlConn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}
	existing := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	missing := missingTopics(required, existing)
	if len(missing) == 0 {
		log.Infow("All required topics already exist")
		return nil
	}

	if err := ctrlConn.CreateTopics(missing...); err != nil {
		if !errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Errorw("Failed to create topics", "error", err, "topics", configNames(missing))
			return fmt.Errorf("kafka create topics failed: %w", err)
		}
		log.Warnw("One or more topics already existed during creation attempt", "topics", configNames(missing))
	}
	log.Infow("Kafka topics created", "topics", configNames(missing))
	return nil
}

func missingTopics(required map[string]kafkaGo.TopicConfig, existing map[string]bool) []kafkaGo.TopicConfig {
	var out []kafkaGo.TopicConfig
	for name, tc := range required {
		if !existing[name] {
			out = append(out, tc)
		}
	}
	return out
}

func topicNames(m map[string]kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

func configNames(list []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(list))
	for _, tc := range list {
		names = append(names, tc.Topic)
	}
	return names
}
