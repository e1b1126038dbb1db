package kafka

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestConfigure_PassesSaramaValidation(t *testing.T) {
	cfg := configure(nil)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("acks = %v, want WaitForAll", cfg.Producer.RequiredAcks)
	}
	if !cfg.Producer.Idempotent {
		t.Error("idempotence disabled")
	}
	if cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("MaxOpenRequests = %d, want 1 with idempotence enabled", cfg.Net.MaxOpenRequests)
	}
}

func TestConfigure_HardensCallerConfig(t *testing.T) {
	custom := sarama.NewConfig()
	custom.Producer.RequiredAcks = sarama.WaitForLocal
	custom.Net.MaxOpenRequests = 5

	cfg := configure(custom)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll || cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("delivery guarantees not enforced: acks=%v open=%d", cfg.Producer.RequiredAcks, cfg.Net.MaxOpenRequests)
	}
}
