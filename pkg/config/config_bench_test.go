package config

import (
	"testing"
)

func BenchmarkConfig_Validate(b *testing.B) {
	cfg := validConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}

func BenchmarkConfig_LoadFromEnv(b *testing.B) {
	b.Setenv("REQUIRED_MARGIN_T1", "0.004")
	b.Setenv("EXECUTION_MODE", "dry-run")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LoadFromEnv()
	}
}
