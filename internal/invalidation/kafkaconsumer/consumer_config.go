package kafkaconsumer

import (
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// DefaultConfig reads only new events; older retirements concern rasters
// this process never loaded.
func DefaultConfig(brokers, topic, group string) Config {
	if brokers == "" {
		brokers = "localhost:9092"
	}
	if topic == "" {
		topic = "zonal-invalidation"
	}
	if group == "" {
		group = "zonal-cache"
	}

	return Config{
		Brokers:          SplitCSV(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}

func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
