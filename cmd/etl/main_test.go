package main

import "testing"

func TestSetupNormalizesFlagOverrides(t *testing.T) {
	defer func() {
		flagUF, flagCargo = "", ""
	}()

	flagUF = " sp "
	flagCargo = "  Vereador "

	cfg, _, err := setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.UF != "SP" {
		t.Errorf("UF = %q, want SP", cfg.UF)
	}
	if cfg.Cargo != "Vereador" {
		t.Errorf("Cargo = %q, want Vereador", cfg.Cargo)
	}
}

func TestSetupRejectsBadUFOverride(t *testing.T) {
	defer func() {
		flagUF = ""
	}()

	flagUF = "sao paulo"
	if _, _, err := setup(); err == nil {
		t.Fatal("setup should reject a non-two-letter UF")
	}
}
