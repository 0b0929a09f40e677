package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.App.Transport != TransportStdio {
		t.Errorf("transport = %q, want stdio", cfg.App.Transport)
	}
}

func TestApplicationConfig_Transport(t *testing.T) {
	cfg := ApplicationConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty transport should default to stdio: %v", err)
	}
	if cfg.Transport != TransportStdio {
		t.Errorf("transport = %q, want stdio", cfg.Transport)
	}

	cfg = ApplicationConfig{Transport: "carrier-pigeon"}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown transport should fail validation")
	}

	// The port only matters for http.
	cfg = ApplicationConfig{Transport: TransportStdio, HTTP: HTTPConfig{Port: 0}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("stdio transport without port should pass: %v", err)
	}
	cfg = ApplicationConfig{Transport: TransportHTTP, HTTP: HTTPConfig{Port: 0}}
	if err := cfg.Validate(); err == nil {
		t.Error("http transport without port should fail")
	}
}

func TestMemoryConfig_FileRequired(t *testing.T) {
	cfg := MemoryConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing memory file should fail validation")
	}
}

func TestStorageConfig(t *testing.T) {
	cfg := StorageConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty driver should default to file: %v", err)
	}
	if cfg.Driver != DriverFile {
		t.Errorf("driver = %q, want file", cfg.Driver)
	}

	cfg = StorageConfig{Driver: DriverSQLite}
	if err := cfg.Validate(); err == nil {
		t.Error("sqlite driver without path should fail")
	}

	cfg = StorageConfig{Driver: "postgres", SQLitePath: "x"}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestFullConfig_WatchRequiresFileDriver(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Memory.Watch = true
	cfg.Storage.Driver = DriverSQLite
	err := cfg.Validate()
	if err == nil {
		t.Fatal("watch with sqlite driver should fail")
	}
	if !strings.Contains(err.Error(), "watch") {
		t.Errorf("unexpected error: %v", err)
	}
}
