package geo

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/config"
)

// Default is the sentinel continent name returned for malformed municipality
// identifiers. Callers must treat it as "route to the default shard", not as
// a parse failure.
const Default = "Default"

// Municipality is one flattened directory entry.
type Municipality struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Continent string `json:"continent"`
}

// Directory resolves logical municipality identifiers ("<continent>-<city>")
// to physical chain endpoints. The lookup table is built once from the
// directory document; a reload swaps the whole table atomically so concurrent
// readers never observe a partial update.
type Directory struct {
	snapshot atomic.Pointer[directorySnapshot]
}

type directorySnapshot struct {
	endpoints       map[string]string
	flaskEndpoints  map[string]string
	continents      map[string]config.Continent
	municipalities  []Municipality
	defaultEndpoint string
	host            string
}

// NewDirectory builds a directory from the document. The document must carry
// a Default continent entry with at least one city; its port backs the
// fallback endpoint.
func NewDirectory(doc map[string]config.Continent, host string) (*Directory, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	snap, err := buildSnapshot(doc, host)
	if err != nil {
		return nil, err
	}
	d := &Directory{}
	d.snapshot.Store(snap)
	return d, nil
}

// Reload replaces the directory contents in one atomic swap.
func (d *Directory) Reload(doc map[string]config.Continent) error {
	old := d.snapshot.Load()
	snap, err := buildSnapshot(doc, old.host)
	if err != nil {
		return err
	}
	d.snapshot.Store(snap)
	return nil
}

func buildSnapshot(doc map[string]config.Continent, host string) (*directorySnapshot, error) {
	def, ok := doc[Default]
	if !ok || len(def.Cities) == 0 {
		return nil, fmt.Errorf("geo: directory document has no usable Default entry")
	}

	snap := &directorySnapshot{
		endpoints:       make(map[string]string),
		flaskEndpoints:  make(map[string]string),
		continents:      make(map[string]config.Continent, len(doc)),
		defaultEndpoint: fmt.Sprintf("http://%s:%d", host, def.Cities[0].CityPort),
		host:            host,
	}
	for continent, entry := range doc {
		snap.continents[continent] = entry
		for _, city := range entry.Cities {
			id := fmt.Sprintf("%s-%s", continent, city.Name)
			snap.endpoints[id] = fmt.Sprintf("http://%s:%d", host, city.CityPort)
			if city.CityFlaskPort != 0 {
				snap.flaskEndpoints[id] = fmt.Sprintf("http://%s:%d", host, city.CityFlaskPort)
			}
			snap.municipalities = append(snap.municipalities, Municipality{
				ID:        id,
				Name:      city.Name,
				Continent: continent,
			})
		}
	}
	sort.Slice(snap.municipalities, func(i, j int) bool {
		return snap.municipalities[i].ID < snap.municipalities[j].ID
	})
	return snap, nil
}

// ResolveMunicipalChain picks the municipal chain endpoint for a transaction:
// the sender's municipality wins, then the receiver's, then the Default
// endpoint.
func (d *Directory) ResolveMunicipalChain(senderMunicipality, receiverMunicipality string) string {
	snap := d.snapshot.Load()
	if url, ok := snap.endpoints[senderMunicipality]; ok {
		return url
	}
	if url, ok := snap.endpoints[receiverMunicipality]; ok {
		return url
	}
	return snap.defaultEndpoint
}

// ResolveContinent extracts the continent name from a municipality
// identifier. Malformed identifiers resolve to the Default sentinel.
func (d *Directory) ResolveContinent(municipalityID string) string {
	continent, rest, found := strings.Cut(municipalityID, "-")
	if !found || continent == "" || rest == "" {
		return Default
	}
	return continent
}

// City extracts the city name from a municipality identifier, or "Unknown"
// when the identifier is malformed.
func (d *Directory) City(municipalityID string) string {
	_, city, found := strings.Cut(municipalityID, "-")
	if !found || city == "" {
		return "Unknown"
	}
	return city
}

// ContinentalEndpoint returns the aggregation-tier endpoint for a city,
// falling back to the continent's port and finally the Default continent.
func (d *Directory) ContinentalEndpoint(continent, city string) string {
	snap := d.snapshot.Load()
	if url, ok := snap.flaskEndpoints[fmt.Sprintf("%s-%s", continent, city)]; ok {
		return url
	}
	entry, ok := snap.continents[continent]
	if !ok || entry.FlaskPort == 0 {
		entry = snap.continents[Default]
	}
	return fmt.Sprintf("http://%s:%d", snap.host, entry.FlaskPort)
}

// Municipalities returns every directory entry, sorted by identifier.
func (d *Directory) Municipalities() []Municipality {
	return d.snapshot.Load().municipalities
}
