package fetch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("SQ_CANDIDATO;VR_RECEITA\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPickCSVPrefersBrasil(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "consulta_cand_2022_AC.csv"))
	writeFile(t, filepath.Join(dir, "nested", "consulta_cand_2022_BRASIL.csv"))

	got, err := PickCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "consulta_cand_2022_BRASIL.csv" {
		t.Errorf("PickCSV = %s, want the BRASIL file", got)
	}
}

func TestPickCSVFallsBackToFirst(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "consulta_cand_2022_SP.csv"))

	got, err := PickCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "consulta_cand_2022_SP.csv" {
		t.Errorf("PickCSV = %s", got)
	}
}

func TestPickCSVEmpty(t *testing.T) {
	if _, err := PickCSV(t.TempDir()); err == nil {
		t.Error("expected error for directory without CSVs")
	}
}

func TestPickByUFPrefersState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "receitas_candidatos_2022_SP.csv"))
	writeFile(t, filepath.Join(dir, "receitas_candidatos_2022_BRASIL.csv"))

	got, err := PickByUF(dir, "receitas_candidatos_2022", "SP")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "receitas_candidatos_2022_SP.csv" {
		t.Errorf("PickByUF = %s, want state file", got)
	}
}

func TestPickByUFFallsBackToNational(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "receitas_candidatos_2022_BRASIL.csv"))

	got, err := PickByUF(dir, "receitas_candidatos_2022", "MG")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "receitas_candidatos_2022_BRASIL.csv" {
		t.Errorf("PickByUF = %s, want national file", got)
	}
}

func TestPickByUFMissing(t *testing.T) {
	if _, err := PickByUF(t.TempDir(), "receitas_candidatos_2022", "SP"); err == nil {
		t.Error("expected error when neither file exists")
	}
}

func TestURLs(t *testing.T) {
	if got := CandidatesURL(2022); got != "https://cdn.tse.jus.br/estatistica/sead/odsele/consulta_cand/consulta_cand_2022.zip" {
		t.Errorf("CandidatesURL = %s", got)
	}
	if got := AssetsURL(2022); got != "https://cdn.tse.jus.br/estatistica/sead/odsele/bem_candidato/bem_candidato_2022.zip" {
		t.Errorf("AssetsURL = %s", got)
	}
	if got := VotesURL(2022); got != "https://cdn.tse.jus.br/estatistica/sead/odsele/votacao_candidato_munzona/votacao_candidato_munzona_2022.zip" {
		t.Errorf("VotesURL = %s", got)
	}
}
