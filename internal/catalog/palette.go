package catalog

// sourceColors is the colour cycle used to attribute concatenated segments
// to their source video.
var sourceColors = []string{
	"#4e79a7",
	"#f28e2b",
	"#e15759",
	"#76b7b2",
	"#59a14f",
	"#edc948",
	"#b07aa1",
	"#ff9da7",
	"#9c755f",
	"#bab0ac",
}

// Palette assigns a stable colour to every source video, in order of first
// appearance. Colours repeat after the cycle is exhausted.
func Palette(c *Catalog) map[string]string {
	ids := c.SourceVideoIDs()
	colors := make(map[string]string, len(ids))
	for i, id := range ids {
		colors[id] = sourceColors[i%len(sourceColors)]
	}
	return colors
}
