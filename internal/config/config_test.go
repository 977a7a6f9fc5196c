package config

import (
	"testing"
)

func defaultTestConfig() *Config {
	return &Config{
		Port:               DefaultPort,
		Env:                DefaultEnv,
		LogLevel:           DefaultLogLevel,
		WarnThreshold:      DefaultWarnThreshold,
		SlashThreshold:     DefaultSlashThreshold,
		BanThreshold:       DefaultBanThreshold,
		GammaPct:           DefaultGammaPct,
		ApprovalTTLSeconds: DefaultApprovalTTL,
		RateLimitRPM:       DefaultRateLimit,
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := defaultTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.WarnThreshold = 40
	cfg.SlashThreshold = 30
	if err := cfg.Validate(); err == nil {
		t.Error("warn >= slash threshold should be rejected")
	}
}

func TestValidate_BanThresholdBounds(t *testing.T) {
	for _, v := range []int{74, 96, 0, 100} {
		cfg := defaultTestConfig()
		cfg.BanThreshold = v
		if err := cfg.Validate(); err == nil {
			t.Errorf("BanThreshold=%d should be rejected", v)
		}
	}
	for _, v := range []int{75, 85, 95} {
		cfg := defaultTestConfig()
		cfg.BanThreshold = v
		if err := cfg.Validate(); err != nil {
			t.Errorf("BanThreshold=%d should be accepted: %v", v, err)
		}
	}
}

func TestValidate_GammaBounds(t *testing.T) {
	for _, v := range []int{49, 91} {
		cfg := defaultTestConfig()
		cfg.GammaPct = v
		if err := cfg.Validate(); err == nil {
			t.Errorf("GammaPct=%d should be rejected", v)
		}
	}
}

func TestValidate_ChainRequiresContract(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RPCURL = "https://example.org"
	if err := cfg.Validate(); err == nil {
		t.Error("RPC_URL without TOKEN_CONTRACT should be rejected")
	}
	cfg.TokenContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	if err := cfg.Validate(); err == nil {
		t.Error("RPC_URL without PRIVATE_KEY should be rejected")
	}
	cfg.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	if err := cfg.Validate(); err != nil {
		t.Errorf("fully specified chain config should validate: %v", err)
	}
}
