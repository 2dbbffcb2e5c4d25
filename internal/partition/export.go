package partition

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/frame"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/progress"
)

// DefaultFileNameTemplate yields e.g. "25.06.Braintree DWH data.csv".
const DefaultFileNameTemplate = "{period}.{provider} DWH data.csv"

// FileName renders template with {period} as the YY.MM label and {provider}
// as the display name.
func FileName(template string, p period.Period, display string) string {
	if template == "" {
		template = DefaultFileNameTemplate
	}
	return strings.NewReplacer("{period}", p.Label(), "{provider}", display).Replace(template)
}

// File is one written export.
type File struct {
	Provider string `json:"provider"`
	Display  string `json:"display"`
	Path     string `json:"path"`
	Rows     int    `json:"rows"`
}

// Skip records a provider that produced no file.
type Skip struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// Result lists what an export wrote and what it skipped.
type Result struct {
	Files   []File
	Skipped []Skip
}

// Exporter writes per-provider CSVs.
type Exporter struct {
	Registry Registry
	Template string
	Sink     progress.Sink

	log *zap.Logger
}

// NewExporter creates an Exporter. An empty template uses DefaultFileNameTemplate.
func NewExporter(reg Registry, template string, sink progress.Sink) *Exporter {
	return &Exporter{
		Registry: reg,
		Template: template,
		Sink:     sink,
		log:      zap.L().With(zap.String("component", "partition.exporter")),
	}
}

// Export filters merged per provider and writes each non-empty subset to its
// folder. Providers lacking a rule, a folder or rows are skipped with a
// warning. Any file system error aborts the export.
func (e *Exporter) Export(merged *frame.Table, p period.Period, folders map[string]string) (*Result, error) {
	if err := merged.Require("merged table", RuleColumns...); err != nil {
		return nil, err
	}

	res := &Result{}
	skip := func(key, reason string) {
		res.Skipped = append(res.Skipped, Skip{Provider: key, Reason: reason})
		progress.Warnf(e.Sink, "skipping %s: %s", key, reason)
		e.log.Warn("provider skipped", zap.String("provider", key), zap.String("reason", reason))
	}

	for _, key := range sortedKeys(folders) {
		if _, ok := e.Registry.Lookup(key); !ok {
			skip(key, "no filter rule defined")
		}
	}

	for _, prov := range e.Registry {
		dir, ok := folders[prov.Key]
		if !ok {
			skip(prov.Key, "no destination folder")
			continue
		}

		subset := merged.Filter(prov.Rule)
		if subset.Len() == 0 {
			skip(prov.Key, "no rows for "+p.Label())
			continue
		}

		path := filepath.Join(dir, FileName(e.Template, p, prov.Display))
		if err := WriteCSV(path, subset); err != nil {
			return nil, eris.Wrapf(err, "partition: export %s", prov.Key)
		}

		res.Files = append(res.Files, File{
			Provider: prov.Key,
			Display:  prov.Display,
			Path:     path,
			Rows:     subset.Len(),
		})
		progress.Emitf(e.Sink, "wrote %d rows for %s to %s", subset.Len(), prov.Display, path)
		e.log.Info("provider exported",
			zap.String("provider", prov.Key),
			zap.String("path", path),
			zap.Int("rows", subset.Len()),
		)
	}

	return res, nil
}

// WriteCSV writes t with a header row to path, creating parent directories.
func WriteCSV(path string, t *frame.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "partition: create folder")
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "partition: create file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "partition: write header")
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = frame.Format(v)
		}
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "partition: write row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "partition: flush")
	}
	return eris.Wrap(f.Close(), "partition: close file")
}
