// Package geoip resolves probe IPs to country codes from an operator-provided
// MaxMind database. Entirely optional; a nil Resolver is a no-op.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver answers country lookups against an mmdb file.
type Resolver struct {
	reader *maxminddb.Reader
}

// Open loads the database at path.
func Open(path string) (*Resolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	return &Resolver{reader: reader}, nil
}

// Country returns the ISO 3166-1 alpha-2 code for ip, or "" when the ip is
// unparseable or unknown. Safe on a nil receiver.
func (r *Resolver) Country(ip string) string {
	if r == nil || ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := r.reader.Lookup(parsed, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the underlying reader. Safe on a nil receiver.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	return r.reader.Close()
}
