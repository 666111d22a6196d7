package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/contriboss/simdext-go"
)

// EnvOverride names a variant to use instead of the automatic choice. It
// is honoured only when the hardware supports that variant.
const EnvOverride = "SIMDEXT_VARIANT"

// ErrNoVariant is returned when no registered variant can run here.
var ErrNoVariant = errors.New("no usable variant")

// Variant is one compiled build of the routine.
type Variant struct {
	Name     string
	Requires string // extension name, "" for the baseline
	Rank     int    // recorded by the build; selection uses the extension catalog
	Artifact string // absolute path of the loadable library
}

// Baseline reports whether v needs no extension.
func (v Variant) Baseline() bool { return v.Requires == "" }

// Select returns the strongest variant the features support, comparing
// extensions by catalog rank within their family. Ties are broken by name
// so the choice never depends on registration order. The baseline is
// chosen when no extension variant fits.
func Select(variants []Variant, features Features) (Variant, error) {
	var best *Variant
	for i := range variants {
		v := &variants[i]
		if !features.Has(v.Requires) {
			continue
		}
		if best == nil || better(v, best) {
			best = v
		}
	}
	if best == nil {
		return Variant{}, ErrNoVariant
	}
	return *best, nil
}

// better orders variants best first. Ranks are only compared inside one
// extension family; families are grouped by name, and variants without a
// known extension come last.
func better(a, b *Variant) bool {
	ea, aok := simdext.LookupExtension(a.Requires)
	eb, bok := simdext.LookupExtension(b.Requires)
	switch {
	case aok != bok:
		return aok
	case aok && ea.Family != eb.Family:
		return ea.Family < eb.Family
	case aok && ea.Stronger(eb):
		return true
	case aok && eb.Stronger(ea):
		return false
	}
	return a.Name < b.Name
}

// Registry holds the variants of one routine.
type Registry struct {
	mu       sync.RWMutex
	variants []Variant

	// Logger receives override diagnostics; nil uses slog.Default().
	Logger *slog.Logger
}

// Register adds a variant.
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants = append(r.variants, v)
}

// Variants returns the registered variants best first, grouped by family.
func (r *Registry) Variants() []Variant {
	r.mu.RLock()
	out := append([]Variant{}, r.variants...)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return better(&out[i], &out[j]) })
	return out
}

// Lookup picks the variant for features, honouring EnvOverride when it
// names a variant the features support.
func (r *Registry) Lookup(features Features) (Variant, error) {
	r.mu.RLock()
	variants := append([]Variant{}, r.variants...)
	r.mu.RUnlock()

	if name := os.Getenv(EnvOverride); name != "" {
		for _, v := range variants {
			if v.Name != name {
				continue
			}
			if features.Has(v.Requires) {
				return v, nil
			}
			r.logger().Warn("ignoring variant override, hardware lacks extension",
				"variant", name,
				"requires", v.Requires,
			)
			break
		}
	}

	return Select(variants, features)
}

// Best picks the variant for this machine.
func (r *Registry) Best() (Variant, error) {
	return r.Lookup(DetectFeatures())
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// LoadManifest builds a registry from a manifest written by the build
// pipeline. Artifact paths are resolved against the manifest's directory.
func LoadManifest(path string) (*Registry, error) {
	m, err := simdext.ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if len(m.Variants) == 0 {
		return nil, fmt.Errorf("%w: manifest %s lists no variants", ErrNoVariant, path)
	}

	dir := filepath.Dir(path)
	r := &Registry{}
	for _, e := range m.Variants {
		artifact := filepath.FromSlash(e.Artifact)
		if !filepath.IsAbs(artifact) {
			artifact = filepath.Join(dir, artifact)
		}
		r.Register(Variant{
			Name:     e.Name,
			Requires: e.Requires,
			Rank:     e.Rank,
			Artifact: artifact,
		})
	}
	return r, nil
}
