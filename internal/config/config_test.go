package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Jobs.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d, want 2", cfg.Jobs.MaxConcurrency)
	}
	if cfg.Jobs.MaxQueueSize != 100 {
		t.Errorf("MaxQueueSize = %d, want 100", cfg.Jobs.MaxQueueSize)
	}
	if !cfg.Jobs.EnablePrioritization {
		t.Error("EnablePrioritization should default to true")
	}
	if cfg.Jobs.RetryPolicy.BackoffStrategy != BackoffExponential {
		t.Errorf("BackoffStrategy = %v, want %v", cfg.Jobs.RetryPolicy.BackoffStrategy, BackoffExponential)
	}
	if cfg.Jobs.RetryPolicy.MaxDelayMs != 300000 {
		t.Errorf("MaxDelayMs = %d, want 300000", cfg.Jobs.RetryPolicy.MaxDelayMs)
	}
	if cfg.StatusStore.Driver != StatusStoreMemory {
		t.Errorf("StatusStore.Driver = %v, want %v", cfg.StatusStore.Driver, StatusStoreMemory)
	}
	if cfg.AuditLog.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.AuditLog.RetentionDays)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid memory store",
			cfg: Config{
				Jobs:        JobsConfig{MaxConcurrency: 2},
				StatusStore: StatusStoreConfig{Driver: StatusStoreMemory},
			},
			wantErr: false,
		},
		{
			name: "auth enabled without secret",
			cfg: Config{
				Jobs:        JobsConfig{MaxConcurrency: 2},
				Auth:        AuthConfig{Enabled: true},
				StatusStore: StatusStoreConfig{Driver: StatusStoreMemory},
			},
			wantErr: true,
		},
		{
			name: "postgres driver without name",
			cfg: Config{
				Jobs:        JobsConfig{MaxConcurrency: 2},
				StatusStore: StatusStoreConfig{Driver: StatusStorePostgres},
			},
			wantErr: true,
		},
		{
			name: "zero concurrency",
			cfg: Config{
				Jobs:        JobsConfig{MaxConcurrency: 0},
				StatusStore: StatusStoreConfig{Driver: StatusStoreMemory},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusStoreConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  StatusStoreConfig
		want string
	}{
		{
			name: "mysql",
			cfg:  StatusStoreConfig{Driver: StatusStoreMySQL, User: "u", Password: "p", Host: "h", Port: 3306, Name: "db"},
			want: "u:p@tcp(h:3306)/db?charset=utf8mb4&parseTime=True&loc=Local",
		},
		{
			name: "postgres",
			cfg:  StatusStoreConfig{Driver: StatusStorePostgres, User: "u", Password: "p", Host: "h", Port: 5432, Name: "db", SSLMode: "disable"},
			want: "host=h port=5432 user=u password=p dbname=db sslmode=disable",
		},
		{
			name: "sqlite in-memory",
			cfg:  StatusStoreConfig{Driver: StatusStoreSQLite},
			want: "file::memory:?cache=shared",
		},
		{
			name: "sqlite file",
			cfg:  StatusStoreConfig{Driver: StatusStoreSQLite, Name: "jobs.db"},
			want: "jobs.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}
