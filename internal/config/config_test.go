package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_PORT")
	os.Unsetenv("APP_ENV")
	os.Unsetenv("RING_TIMEOUT_SECONDS")
	os.Unsetenv("FCM_PROJECT_ID")
	os.Unsetenv("GOOGLE_APPLICATION_CREDENTIALS")

	cfg := Load()

	if cfg.Port != "3001" {
		t.Errorf("Load() Port = %v, want 3001", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.RingTimeoutSeconds != 30 {
		t.Errorf("Load() RingTimeoutSeconds = %v, want 30", cfg.RingTimeoutSeconds)
	}
	if cfg.FCMProjectID != "" {
		t.Errorf("Load() FCMProjectID = %v, want empty", cfg.FCMProjectID)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("RING_TIMEOUT_SECONDS", "10")
	os.Setenv("FCM_PROJECT_ID", "demo-project")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("APP_ENV")
		os.Unsetenv("RING_TIMEOUT_SECONDS")
		os.Unsetenv("FCM_PROJECT_ID")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.RingTimeoutSeconds != 10 {
		t.Errorf("Load() RingTimeoutSeconds = %v, want 10", cfg.RingTimeoutSeconds)
	}
	if cfg.FCMProjectID != "demo-project" {
		t.Errorf("Load() FCMProjectID = %v, want demo-project", cfg.FCMProjectID)
	}
}

func TestLoad_InvalidRingTimeout(t *testing.T) {
	os.Setenv("RING_TIMEOUT_SECONDS", "not-a-number")
	defer os.Unsetenv("RING_TIMEOUT_SECONDS")

	cfg := Load()

	// Should fall back to default
	if cfg.RingTimeoutSeconds != 30 {
		t.Errorf("Load() RingTimeoutSeconds = %v, want 30 (default)", cfg.RingTimeoutSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config",
			cfg:     Config{Port: "3001", Env: "dev", RingTimeoutSeconds: 30},
			wantErr: false,
		},
		{
			name: "valid with fcm",
			cfg: Config{
				Port: "3001", Env: "prod", RingTimeoutSeconds: 30,
				FCMProjectID: "p", FCMCredentialsFile: "/etc/sa.json",
			},
			wantErr: false,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", Env: "dev", RingTimeoutSeconds: 30},
			wantErr: true,
		},
		{
			name:    "zero ring timeout",
			cfg:     Config{Port: "3001", Env: "dev", RingTimeoutSeconds: 0},
			wantErr: true,
		},
		{
			name: "credentials without project id",
			cfg: Config{
				Port: "3001", Env: "prod", RingTimeoutSeconds: 30,
				FCMCredentialsFile: "/etc/sa.json",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
