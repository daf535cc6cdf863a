package region

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Fallback coordinates (Paris) when the edge does not supply a client location.
const (
	DefaultLat = 48.8323
	DefaultLon = 2.4075
)

// Region is a provisioning region with its datacenter coordinates.
type Region struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// Catalog is the set of regions new projects may be placed in.
type Catalog []Region

// DefaultCatalog lists the regions offered by the hosted provisioning API.
var DefaultCatalog = Catalog{
	{ID: "aws-us-east-1", Name: "US East (N. Virginia)", Lat: 38.0336, Lon: -78.508},
	{ID: "aws-us-east-2", Name: "US East (Ohio)", Lat: 39.9612, Lon: -82.9988},
	{ID: "aws-us-west-2", Name: "US West (Oregon)", Lat: 45.5235, Lon: -122.6762},
	{ID: "aws-eu-central-1", Name: "Europe (Frankfurt)", Lat: 50.1109, Lon: 8.6821},
	{ID: "aws-ap-southeast-1", Name: "Asia Pacific (Singapore)", Lat: 1.3521, Lon: 103.8198},
	{ID: "aws-ap-southeast-2", Name: "Asia Pacific (Sydney)", Lat: -33.8688, Lon: 151.2093},
	{ID: "azure-eastus2", Name: "Azure US East 2", Lat: 39.9612, Lon: -82.9988},
}

// LoadCatalog reads a region catalog from a YAML file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading region catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing region catalog: %w", err)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("region catalog %s is empty", path)
	}
	return catalog, nil
}

// Closest returns the id of the region nearest to the given coordinates.
func (c Catalog) Closest(lat, lon float64) string {
	closest := ""
	minDistance := math.Inf(1)

	for _, r := range c {
		d := haversine(lat, lon, r.Lat, r.Lon)
		if d < minDistance {
			minDistance = d
			closest = r.ID
		}
	}
	return closest
}

// CoordsFromRequest extracts the client's latitude and longitude from the
// edge-injected geolocation headers, falling back to the defaults when
// absent or unparsable.
func CoordsFromRequest(r *http.Request) (lat, lon float64) {
	lat, lon = DefaultLat, DefaultLon
	if v, err := strconv.ParseFloat(r.Header.Get("CF-IPLatitude"), 64); err == nil {
		lat = v
	}
	if v, err := strconv.ParseFloat(r.Header.Get("CF-IPLongitude"), 64); err == nil {
		lon = v
	}
	return lat, lon
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
