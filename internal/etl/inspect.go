package etl

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/andrelz/eleicoes-dashboard/internal/moneybr"
	"github.com/andrelz/eleicoes-dashboard/internal/schema"
)

// InspectFinanceFiles is an operator utility: it lists the finance extract
// files under dir, and for the largest ones reports the detected monetary
// columns plus a parsed sample, so header drift can be diagnosed before a
// full load.
func InspectFinanceFiles(dir string, log zerolog.Logger) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".csv" || ext == ".txt") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InspectFinanceFiles: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("InspectFinanceFiles: no extract files under %s", dir)
	}

	log.Info().Int("files", len(files)).Str("dir", dir).Msg("finance extracts found")

	sort.Slice(files, func(i, j int) bool { return fileSize(files[i]) > fileSize(files[j]) })
	if len(files) > 4 {
		files = files[:4]
	}

	for _, path := range files {
		if err := inspectOne(path, log); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("could not inspect file")
		}
	}
	return nil
}

func inspectOne(path string, log zerolog.Logger) error {
	header, err := schema.ReadHeader(path)
	if err != nil {
		return err
	}

	var moneyCols []string
	for _, h := range header {
		u := strings.ToUpper(h)
		if strings.HasPrefix(u, "VR_") || strings.Contains(u, "VALOR") {
			moneyCols = append(moneyCols, h)
		}
	}

	log.Info().
		Str("file", path).
		Str("size", humanize.Bytes(uint64(fileSize(path)))).
		Strs("money_columns", moneyCols).
		Msg("extract header")

	if len(moneyCols) == 0 {
		return nil
	}
	if len(moneyCols) > 5 {
		moneyCols = moneyCols[:5]
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, charmap.Windows1252.NewDecoder()))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil { // skip header
		return err
	}
	for line := 0; line < 5; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		sample := make(map[string]interface{}, len(moneyCols))
		for _, col := range moneyCols {
			i := index[col]
			if i >= len(row) {
				continue
			}
			if v, ok := moneybr.Parse(row[i]); ok {
				sample[col] = v
			} else {
				sample[col] = fmt.Sprintf("unparseable: %q", row[i])
			}
		}
		log.Info().Int("row", line+1).Interface("values", sample).Msg("monetary sample")
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
