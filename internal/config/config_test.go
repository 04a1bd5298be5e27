package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.OwnerSubject != defaultOwnerSubject {
		t.Fatalf("unexpected owner subject %q", cfg.OwnerSubject)
	}
	if cfg.ShareDefaultTTL != 24*time.Hour {
		t.Fatalf("unexpected share ttl %s", cfg.ShareDefaultTTL)
	}
	if cfg.ShareMaxDownloads != defaultShareMaxDownloads {
		t.Fatalf("unexpected max downloads %d", cfg.ShareMaxDownloads)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.RedisAddress != "" {
		t.Fatalf("expected redis to be disabled by default, got %q", cfg.RedisAddress)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MOYUE_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("MOYUE_SHARE_DEFAULT_MAX_DOWNLOADS", "3")
	t.Setenv("MOYUE_HTTP_ADDRESS", "127.0.0.1:9999")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "env-secret" {
		t.Fatalf("expected signing secret from env, got %q", cfg.SigningSecret)
	}
	if cfg.ShareMaxDownloads != 3 {
		t.Fatalf("expected max downloads from env, got %d", cfg.ShareMaxDownloads)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("expected http address from env, got %q", cfg.HTTPAddress)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	testCases := []struct {
		name      string
		overrides map[string]any
		wantError string
	}{
		{
			name:      "missing-secret",
			overrides: map[string]any{"auth.signing_secret": ""},
			wantError: "auth.signing_secret",
		},
		{
			name:      "empty-database-path",
			overrides: map[string]any{"database.path": " "},
			wantError: "database.path",
		},
		{
			name:      "max-ttl-below-default",
			overrides: map[string]any{"share.max_ttl_hours": 1, "share.default_ttl_hours": 2},
			wantError: "share.max_ttl_hours",
		},
		{
			name:      "zero-downloads",
			overrides: map[string]any{"share.default_max_downloads": 0},
			wantError: "share.default_max_downloads",
		},
		{
			name:      "weak-work-factor",
			overrides: map[string]any{"share.scrypt_work_factor": 4},
			wantError: "share.scrypt_work_factor",
		},
		{
			name:      "redis-without-channel",
			overrides: map[string]any{"redis.address": "localhost:6379", "redis.channel": ""},
			wantError: "redis.channel",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "secret")
			for key, value := range testCase.overrides {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.wantError) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.wantError, err)
			}
		})
	}
}
