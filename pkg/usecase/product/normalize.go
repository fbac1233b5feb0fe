package product

import (
	"sort"
	"strings"

	"github.com/m-mizutani/wares/pkg/model"
)

// Normalize renders a product as the canonical text used for embedding:
//
//	## <name>
//
//	<description>
//
//	- <key>: <value>
//
// Metadata lines are sorted by key so that the same product always yields the same text.
func Normalize(p *model.Product) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(p.Name)
	b.WriteString("\n\n")
	b.WriteString(p.DescriptionOrEmpty())
	b.WriteString("\n\n")

	for _, key := range sortedKeys(p.Metadata) {
		b.WriteString("- ")
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(p.Metadata[key])
		b.WriteString("\n")
	}

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
