package clowdflare

import (
	"fmt"
	"math"
	"net/netip"
	"os"

	"github.com/mmcloughlin/geohash"
	"github.com/pg9182/ip2x"
)

// geohashChars is the precision of stored geohashes (about 5km).
const geohashChars = 5

// Location is the location of an address.
type Location struct {
	Country string // country code
	Geohash string
}

// geoDB wraps a file-backed IP2Location database. The file must not be
// modified while it is open.
type geoDB struct {
	file *os.File
	db   *ip2x.DB
}

func openGeoDB(name string) (*geoDB, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if p, _ := db.Info(); p != ip2x.IP2Location {
		f.Close()
		return nil, fmt.Errorf("not an ip2location database")
	}
	return &geoDB{f, db}, nil
}

// Locate looks up a. Unknown fields are left empty.
func (g *geoDB) Locate(a netip.Addr) (l Location) {
	if g == nil {
		return
	}
	r, err := g.db.Lookup(a)
	if err != nil {
		return
	}
	if c, ok := r.GetString(ip2x.CountryCode); ok && c != "" && c != "-" {
		l.Country = c
	}
	if lat, ok := r.GetFloat32(ip2x.Latitude); ok {
		if lng, ok := r.GetFloat32(ip2x.Longitude); ok {
			l.Geohash = encodeGeohash(float64(lat), float64(lng))
		}
	}
	return
}

// encodeGeohash returns an empty string for invalid positions and for 0,0,
// which IP2Location uses when the position is unknown.
func encodeGeohash(lat, lng float64) string {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ""
	}
	if lat == 0 && lng == 0 {
		return ""
	}
	return geohash.EncodeWithPrecision(lat, lng, geohashChars)
}

func (g *geoDB) Close() error {
	if g == nil {
		return nil
	}
	return g.file.Close()
}
