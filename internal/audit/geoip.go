package audit

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// GeoIP looks addresses up in a MaxMind GeoLite2/GeoIP2 City or Country database.
type GeoIP struct {
	reader *maxminddb.Reader
}

func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoIP{reader: reader}, nil
}

// Locate returns empty strings for unparseable, private or unknown addresses.
func (g *GeoIP) Locate(ip string) (string, string) {
	addr := net.ParseIP(ip)
	if addr == nil || addr.IsPrivate() || addr.IsLoopback() {
		return "", ""
	}
	var rec cityRecord
	if err := g.reader.Lookup(addr, &rec); err != nil {
		return "", ""
	}
	return rec.Country.ISOCode, rec.City.Names["en"]
}

func (g *GeoIP) Close() error {
	return g.reader.Close()
}
