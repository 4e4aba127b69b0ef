package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean.
type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers []string
	EventTopic   string

	Redis RedisConfig

	PrisonerSearchURL     string
	PrisonerSearchTimeout time.Duration

	// CertificationPrisons lists the prisons whose certified accommodation
	// edits must go through the approval workflow.
	CertificationPrisons []string

	// PrisonConfigTTL bounds how long the per-prison certification flag is
	// served from cache before the prison register is consulted again.
	PrisonConfigTTL time.Duration
}

// RedisConfig holds connection settings for the prison configuration cache.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:                  getEnv("LOCATIONS_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		EventTopic:            getEnv("LOCATION_EVENT_TOPIC", "location-events"),
		PrisonerSearchURL:     os.Getenv("PRISONER_SEARCH_URL"),
		PrisonerSearchTimeout: 5 * time.Second,
		PrisonConfigTTL:       10 * time.Minute,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if prisons := os.Getenv("CERTIFICATION_PRISONS"); prisons != "" {
		cfg.CertificationPrisons = strings.Split(prisons, ",")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
