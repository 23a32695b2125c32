// Package e2e runs the indexer and retrieval end to end over a generated notes corpus.
package e2e

import (
	"fmt"
	"strings"
)

// Note is one lecture note in the E2E corpus. Name is the file name without
// extension.
type Note struct {
	Name    string
	Title   string
	Content string
}

// QueryTestCase is a question and the note that must be among its sources.
type QueryTestCase struct {
	Query        string
	ExpectedNote string
	Description  string
}

// Corpus holds notes and query test cases for E2E tests.
type Corpus struct {
	Notes        []Note
	TestCases    []QueryTestCase
	TotalNotes   int
	TotalQueries int
}

type topic struct {
	course  string
	title   string
	phrase  string
	content string
}

var topics = []topic{
	{"bio", "Cell Membranes", "phospholipid bilayer", "The phospholipid bilayer separates the cytoplasm from its surroundings. Cholesterol stiffens the phospholipid bilayer at warm temperatures."},
	{"bio", "Photosynthesis", "chlorophyll thylakoid", "Chlorophyll in the thylakoid absorbs red and blue light. The Calvin cycle fixes carbon dioxide into glucose."},
	{"bio", "Mitosis", "prophase metaphase anaphase", "Prophase metaphase anaphase and telophase divide the nucleus. Spindle fibers pull sister chromatids apart."},
	{"bio", "Enzymes", "enzyme substrate activation", "Each enzyme binds a substrate at its active site. Enzymes lower the activation energy of a reaction."},
	{"bio", "Genetics", "Mendel dominant recessive", "Mendel crossed pea plants to study dominant and recessive alleles. A Punnett square predicts offspring ratios."},
	{"chem", "Ionic Bonds", "ionic lattice electronegativity", "Ionic bonds form when electronegativity differs sharply. Sodium chloride crystallizes as an ionic lattice."},
	{"chem", "Le Chatelier", "Le Chatelier equilibrium", "Le Chatelier's principle says an equilibrium shifts to oppose a stress. Adding reactant pushes the equilibrium toward products."},
	{"chem", "Titration", "titration burette indicator", "A titration adds base from a burette until the indicator changes color. Phenolphthalein turns pink near pH nine."},
	{"chem", "Gas Laws", "Boyle Charles pressure", "Boyle's law relates pressure and volume at fixed temperature. Charles's law relates volume and temperature."},
	{"chem", "Organic Functional Groups", "carboxyl hydroxyl ester", "Carboxyl and hydroxyl groups condense to form an ester. Esters give fruit their smell."},
	{"phys", "Newton's Laws", "inertia Newton acceleration", "Newton's first law describes inertia. The second law says force equals mass times acceleration."},
	{"phys", "Projectile Motion", "projectile parabola trajectory", "A projectile follows a parabola when drag is ignored. Horizontal velocity stays constant along the trajectory."},
	{"phys", "Ohm's Law", "Ohm resistor voltage current", "Ohm's law says voltage equals current times resistance. Resistors in series add their resistance."},
	{"phys", "Thermodynamics", "entropy Carnot engine", "Entropy of an isolated system never decreases. A Carnot engine sets the upper bound on efficiency."},
	{"phys", "Waves", "wavelength frequency amplitude", "Wavelength times frequency gives wave speed. Amplitude sets the energy a wave carries."},
	{"hist", "French Revolution", "Bastille Jacobins guillotine", "The storming of the Bastille in 1789 began the revolution. The Jacobins used the guillotine during the Terror."},
	{"hist", "Industrial Revolution", "spinning jenny steam textile", "The spinning jenny and steam power transformed textile mills. Workers moved from farms to factory towns."},
	{"hist", "Cold War", "containment Marshall Berlin airlift", "Containment guided American policy. The Marshall Plan rebuilt Europe and the Berlin airlift broke a blockade."},
	{"hist", "Magna Carta", "Magna Carta barons Runnymede", "King John sealed the Magna Carta at Runnymede in 1215. The barons demanded limits on royal power."},
	{"hist", "Silk Road", "caravan Samarkand silk", "Caravans carried silk and spices through Samarkand. The Silk Road also spread religions and disease."},
	{"geo", "Plate Tectonics", "subduction tectonic trench", "Subduction drives one tectonic plate beneath another. Deep ocean trenches mark subduction zones."},
	{"geo", "Erosion", "glacier moraine erosion", "A glacier scrapes rock and leaves a moraine. Erosion by rivers carves V-shaped valleys."},
	{"geo", "Climate Zones", "Koppen monsoon tundra", "The Koppen system classifies climates. Monsoon regions get seasonal rain while tundra stays frozen."},
	{"geo", "Water Cycle", "evaporation condensation precipitation", "Evaporation lifts water vapor and condensation forms clouds. Precipitation returns water to the surface."},
	{"math", "Derivatives", "derivative tangent slope", "A derivative measures the slope of the tangent line. The chain rule differentiates composite functions."},
	{"math", "Integrals", "integral antiderivative Riemann", "A Riemann sum approximates the area under a curve. The integral is the limit, computed with an antiderivative."},
	{"math", "Probability", "Bayes conditional probability", "Bayes theorem reverses a conditional probability. Independent events multiply their probabilities."},
	{"math", "Matrices", "matrix determinant eigenvalue", "A matrix with zero determinant is singular. Each eigenvalue scales its eigenvector."},
	{"math", "Prime Numbers", "prime sieve Eratosthenes", "The sieve of Eratosthenes finds every prime below a bound. There are infinitely many primes."},
	{"lit", "Shakespeare Tragedy", "Hamlet soliloquy Elsinore", "Hamlet delivers his soliloquy at Elsinore. The tragedy turns on delay and revenge."},
	{"lit", "Poetry Meter", "iambic pentameter sonnet", "Iambic pentameter has five stressed beats per line. A sonnet has fourteen lines."},
	{"lit", "Narrative Voice", "unreliable narrator perspective", "An unreliable narrator distorts events. First person perspective limits what the reader learns."},
}

// BuildCorpus returns n notes cycling through the topics and one query test
// case per distinct topic. Repeated topics get a numbered title and the same
// body, so only their first occurrence is asserted on.
func BuildCorpus(n int) *Corpus {
	notes := make([]Note, 0, n)
	for i := 0; i < n; i++ {
		tp := topics[i%len(topics)]
		title := tp.title
		if i >= len(topics) {
			title = fmt.Sprintf("%s (%d)", tp.title, i/len(topics)+1)
		}
		notes = append(notes, Note{
			Name:    fmt.Sprintf("%s/%02d-%s", tp.course, i+1, slug(tp.title)),
			Title:   title,
			Content: tp.content,
		})
	}
	var cases []QueryTestCase
	for i := 0; i < n && i < len(topics); i++ {
		cases = append(cases, QueryTestCase{
			Query:        topics[i].phrase,
			ExpectedNote: notes[i].Name,
			Description:  fmt.Sprintf("query %q should cite %s", topics[i].phrase, notes[i].Name),
		})
	}
	return &Corpus{
		Notes:        notes,
		TestCases:    cases,
		TotalNotes:   len(notes),
		TotalQueries: len(cases),
	}
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("'", "", " ", "-").Replace(s)
	return s
}

func containsPhrase(n Note, phrase string) bool {
	text := strings.ToLower(n.Title + " " + n.Content)
	for _, w := range strings.Fields(strings.ToLower(phrase)) {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
