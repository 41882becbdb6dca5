// Package fetch downloads and unpacks the TSE open-data ZIP archives that feed
// the ETL. Downloads are skipped when the artifact is already on disk, so a
// re-run never re-pulls hundreds of megabytes.
package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const tseBaseURL = "https://cdn.tse.jus.br/estatistica/sead/odsele"

// CandidatesURL is the national candidate roll archive for a year.
func CandidatesURL(year int) string {
	return fmt.Sprintf("%s/consulta_cand/consulta_cand_%d.zip", tseBaseURL, year)
}

// AssetsURL is the declared-assets archive for a year.
func AssetsURL(year int) string {
	return fmt.Sprintf("%s/bem_candidato/bem_candidato_%d.zip", tseBaseURL, year)
}

// VotesURL is the per-municipality/zone vote tally archive for a year.
func VotesURL(year int) string {
	return fmt.Sprintf("%s/votacao_candidato_munzona/votacao_candidato_munzona_%d.zip", tseBaseURL, year)
}

// DownloadZip streams url to dest unless a non-empty dest already exists.
func DownloadZip(ctx context.Context, url, dest string, log zerolog.Logger) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Info().Str("zip", dest).Msg("archive already downloaded")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("DownloadZip: %w", err)
	}

	log.Info().Str("url", url).Msg("downloading archive")
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("DownloadZip: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("DownloadZip: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("DownloadZip: fetching %s: unexpected status %s", url, resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("DownloadZip: %w", err)
	}
	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("DownloadZip: writing %s: %w", tmp, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("DownloadZip: closing %s: %w", tmp, closeErr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("DownloadZip: %w", err)
	}

	log.Info().
		Str("zip", dest).
		Str("size", humanize.Bytes(uint64(written))).
		Dur("elapsed", time.Since(start)).
		Msg("archive downloaded")
	return nil
}

// ExtractZip unpacks zipPath into outDir unless outDir already holds CSVs.
func ExtractZip(zipPath, outDir string, log zerolog.Logger) error {
	if csvs, _ := filepath.Glob(filepath.Join(outDir, "*.csv")); len(csvs) > 0 {
		log.Info().Str("dir", outDir).Msg("archive already extracted")
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("ExtractZip: %w", err)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("ExtractZip: opening %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, file := range r.File {
		if err := extractOne(file, outDir); err != nil {
			return fmt.Errorf("ExtractZip: %s: %w", file.Name, err)
		}
	}

	log.Info().Str("zip", zipPath).Str("dir", outDir).Int("entries", len(r.File)).Msg("archive extracted")
	return nil
}

func extractOne(file *zip.File, outDir string) error {
	dest := filepath.Join(outDir, filepath.FromSlash(file.Name))
	// Guard against entries escaping outDir.
	if rel, err := filepath.Rel(outDir, dest); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("entry escapes extraction dir")
	}
	if file.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// PickCSV chooses the working CSV from an extracted archive: the national
// BRASIL file when present, otherwise the first CSV found.
func PickCSV(dir string) (string, error) {
	csvs, err := listCSVs(dir)
	if err != nil {
		return "", err
	}
	if len(csvs) == 0 {
		return "", fmt.Errorf("PickCSV: no .csv found under %s", dir)
	}
	for _, p := range csvs {
		if strings.Contains(strings.ToUpper(filepath.Base(p)), "BRASIL") {
			return p, nil
		}
	}
	return csvs[0], nil
}

// PickByUF resolves a finance extract by base name, preferring the per-state
// file and falling back to the national one.
func PickByUF(dir, base, uf string) (string, error) {
	stateFile := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", base, uf))
	if _, err := os.Stat(stateFile); err == nil {
		return stateFile, nil
	}
	national := filepath.Join(dir, base+"_BRASIL.csv")
	if _, err := os.Stat(national); err == nil {
		return national, nil
	}
	return "", fmt.Errorf("PickByUF: neither %s nor %s exists", stateFile, national)
}

func listCSVs(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listCSVs: %w", err)
	}
	return out, nil
}
