package warehouse

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Template placeholders.
const (
	PlaceholderStartDate   = "start_date"
	PlaceholderEndDate     = "end_date"
	PlaceholderOrderIDList = "order_id_list"
)

// LoadTemplate reads a SQL template from dir.
func LoadTemplate(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "warehouse: read sql template %s", path)
	}
	return string(b), nil
}

// Render substitutes {{key}} placeholders by literal text replacement.
// Placeholders without a value are left untouched.
func Render(tmpl string, values map[string]string) string {
	if len(values) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
