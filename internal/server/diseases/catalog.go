// Package diseases holds the reference text shown on the disease info pages.
package diseases

import (
	"strings"

	"github.com/dmitrijs2005/smartagro/internal/server/models"
)

// Info describes one label of the classifier.
type Info struct {
	Label       models.Label `json:"label"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Symptoms    []string     `json:"symptoms"`
	Management  []string     `json:"management"`
}

var catalog = []Info{
	{
		Label:       models.LabelHealthy,
		Title:       "Healthy leaf",
		Description: "No disease symptoms detected on the leaf.",
		Symptoms:    []string{"Uniform green colour", "No lesions, streaks or pustules"},
		Management:  []string{"Keep regular field scouting", "Maintain balanced fertilisation and irrigation"},
	},
	{
		Label:       models.LabelMosaic,
		Title:       "Mosaic",
		Description: "Viral disease spread by aphids and infected setts, producing a mottled leaf pattern.",
		Symptoms:    []string{"Light and dark green mosaic patches", "Chlorotic streaks along the veins", "Stunted growth"},
		Management:  []string{"Plant certified virus-free setts", "Control aphid vectors", "Rogue out infected clumps"},
	},
	{
		Label:       models.LabelRedRot,
		Title:       "Red rot",
		Description: "Fungal disease (Colletotrichum falcatum) affecting stalks and leaf midribs.",
		Symptoms:    []string{"Red lesions with white centres on the midrib", "Drying of leaves from the tip", "Sour smell from split stalks"},
		Management:  []string{"Use resistant varieties", "Treat setts with fungicide before planting", "Avoid ratooning infected fields"},
	},
	{
		Label:       models.LabelRust,
		Title:       "Rust",
		Description: "Fungal disease (Puccinia spp.) favoured by humid weather.",
		Symptoms:    []string{"Small elongated yellow spots turning orange-brown", "Pustules releasing rusty spores on the underside"},
		Management:  []string{"Grow tolerant varieties", "Avoid excess nitrogen", "Apply recommended fungicides at early onset"},
	},
	{
		Label:       models.LabelYellow,
		Title:       "Yellow leaf",
		Description: "Yellowing of the leaf midrib, commonly caused by a phloem-limited virus or nutrient stress.",
		Symptoms:    []string{"Yellow midrib on the underside of older leaves", "Yellowing spreading to the blade", "Reduced cane growth"},
		Management:  []string{"Use healthy planting material", "Control aphid vectors", "Correct nitrogen and potassium deficiencies"},
	},
}

// All returns the catalog in label order.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a label by name, ignoring case and "-", "_" and spaces, so
// "red_rot" and "RedRot" both work.
func Lookup(name string) (Info, bool) {
	key := normalize(name)
	for _, i := range catalog {
		if normalize(string(i.Label)) == key {
			return i, true
		}
	}
	return Info{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimSpace(s)))
}
