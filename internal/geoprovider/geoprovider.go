// Package geoprovider is the reference Geo-IP provider (SPEC_FULL.md DOMAIN
// STACK: standing in for the out-of-scope "geo-IP lookup provider"
// collaborator spec section 1 names) that fills reqmodel.Request.Geo.
// Grounded on other_examples/ecb19ddb_jianxcao-caddy-waf's use of
// github.com/oschwald/maxminddb-golang for a WAF's country-lookup path; this
// provider additionally reaches for github.com/oschwald/geoip2-golang's
// typed City/ASN/AnonymousIP readers (both already in the teacher's go.mod)
// since reqmodel.GeoIP needs more than a bare ISO country code.
package geoprovider

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"github.com/curiefense/curiefense-go/internal/reqmodel"
)

// Provider resolves a request IP against up to three optional MaxMind-format
// databases. Any reader left nil is simply skipped - a deployment with only
// a City database still gets country/city/continent/location fields, for
// instance.
type Provider struct {
	city        *geoip2.Reader
	asn         *geoip2.Reader
	anonymousIP *geoip2.Reader
}

// Config names the on-disk database paths; empty means "not configured".
type Config struct {
	CityDBPath        string
	ASNDBPath         string
	AnonymousIPDBPath string
}

// Open loads every configured database. A path that fails to open is a
// config-load failure (spec section 7 kind 2): reported, not fatal - the
// provider simply runs without that database.
func Open(cfg Config) (*Provider, []error) {
	var errs []error
	p := &Provider{}

	if cfg.CityDBPath != "" {
		r, err := geoip2.Open(cfg.CityDBPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("geoprovider: opening city database: %w", err))
		} else {
			p.city = r
		}
	}
	if cfg.ASNDBPath != "" {
		r, err := geoip2.Open(cfg.ASNDBPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("geoprovider: opening ASN database: %w", err))
		} else {
			p.asn = r
		}
	}
	if cfg.AnonymousIPDBPath != "" {
		r, err := geoip2.Open(cfg.AnonymousIPDBPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("geoprovider: opening anonymous-IP database: %w", err))
		} else {
			p.anonymousIP = r
		}
	}
	return p, errs
}

// Close releases every opened database handle.
func (p *Provider) Close() error {
	for _, r := range []*geoip2.Reader{p.city, p.asn, p.anonymousIP} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Lookup fills a GeoIP for ipStr (spec section 3: "every field but IP/IPStr
// is optional - absence must be treated as non-match"). A malformed or
// absent IP address yields a GeoIP with only IPStr set, matching spec
// section 8's "IP absent -> every geo/IP-based entry yields no match"
// boundary case.
func (p *Provider) Lookup(ipStr string) reqmodel.GeoIP {
	geo := reqmodel.GeoIP{IPStr: ipStr}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return geo
	}
	geo.IP = ip

	if p.city != nil {
		if rec, err := p.city.City(ip); err == nil {
			applyCity(&geo, rec)
		}
	}
	if p.asn != nil {
		if rec, err := p.asn.ASN(ip); err == nil {
			applyASN(&geo, rec)
		}
	}
	if p.anonymousIP != nil {
		if rec, err := p.anonymousIP.AnonymousIP(ip); err == nil {
			applyAnonymousIP(&geo, rec)
		}
	}
	return geo
}

func applyCity(geo *reqmodel.GeoIP, rec *geoip2.City) {
	if name := rec.Continent.Names["en"]; name != "" {
		geo.ContinentName = &name
	}
	if rec.Continent.Code != "" {
		code := rec.Continent.Code
		geo.ContinentCode = &code
	}
	if name := rec.City.Names["en"]; name != "" {
		geo.CityName = &name
	}
	if name := rec.Country.Names["en"]; name != "" {
		geo.CountryName = &name
	}
	if rec.Country.IsoCode != "" {
		iso := rec.Country.IsoCode
		geo.CountryISO = &iso
	}
	if len(rec.Subdivisions) > 0 {
		if name := rec.Subdivisions[0].Names["en"]; name != "" {
			geo.Region = &name
		}
	}
	if len(rec.Subdivisions) > 1 {
		if name := rec.Subdivisions[1].Names["en"]; name != "" {
			geo.SubRegion = &name
		}
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		lat, long := rec.Location.Latitude, rec.Location.Longitude
		geo.Latitude = &lat
		geo.Longitude = &long
	}
}

func applyASN(geo *reqmodel.GeoIP, rec *geoip2.ASN) {
	if rec.AutonomousSystemNumber != 0 {
		asn := rec.AutonomousSystemNumber
		geo.ASN = &asn
	}
	if rec.AutonomousSystemOrganization != "" {
		org := rec.AutonomousSystemOrganization
		geo.Company = &org
		geo.ASName = &org
	}
	if rec.Network.IP != nil {
		network := rec.Network.String()
		geo.Network = &network
	}
}

func applyAnonymousIP(geo *reqmodel.GeoIP, rec *geoip2.AnonymousIP) {
	geo.IsProxy = boolPtr(rec.IsAnonymous)
	geo.IsVPN = boolPtr(rec.IsAnonymousVPN)
	geo.IsTor = boolPtr(rec.IsTorExitNode)
	geo.IsHosting = boolPtr(rec.IsHostingProvider)
	geo.IsRelay = boolPtr(rec.IsPublicProxy)
}

func boolPtr(b bool) *bool { return &b }

// RawLookup opens path as a generic MaxMind DB and decodes into dst,
// for database variants (e.g. a commercial mobile-carrier or company
// enrichment schema) with no typed geoip2-golang reader - the extended
// reqmodel.GeoIP fields (Company*, Mobile*, AS* beyond ASName) have no
// standard MaxMind database to source from and are left nil by this
// provider; a deployment with such a database can populate them via this
// escape hatch.
func RawLookup(path string, ip net.IP, dst any) error {
	db, err := maxminddb.Open(path)
	if err != nil {
		return fmt.Errorf("geoprovider: opening raw database: %w", err)
	}
	defer db.Close()
	return db.Lookup(ip, dst)
}
