package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const defaultProbeTimeout = 2 * time.Second

// ProbeBrokers проверяет, что хотя бы один брокер отвечает на запрос метаданных.
func ProbeBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers are not configured")
	}

	timeout := defaultProbeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < timeout {
			timeout = left
		}
	}

	config := sarama.NewConfig()
	config.Net.DialTimeout = timeout
	config.Net.ReadTimeout = timeout
	config.Metadata.Retry.Max = 0

	done := make(chan error, 1)
	go func() {
		client, err := sarama.NewClient(brokers, config)
		if err != nil {
			done <- fmt.Errorf("connect to kafka: %w", err)
			return
		}
		defer client.Close()
		if len(client.Brokers()) == 0 {
			done <- fmt.Errorf("kafka cluster reports no brokers")
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
