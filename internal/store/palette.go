package store

import "hash/fnv"

// palette is the fixed set of calendar colors handed out to new sources.
var palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
	"#3366cc", "#dc3912", "#ff9900", "#109618", "#990099",
	"#0099c6", "#dd4477", "#66aa00", "#b82e2e", "#316395",
}

// colorFor deterministically assigns a palette color per primary URL so a
// source keeps its color across re-imports and fresh databases.
func colorFor(primaryURL string) string {
	h := fnv.New32a()
	h.Write([]byte(primaryURL))
	return palette[h.Sum32()%uint32(len(palette))]
}
