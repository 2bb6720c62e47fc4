package reqmodel

import "net"

// GeoIP carries the geolocation/anonymizer attributes resolved for a
// request's IP address. Every field but IP/IPStr is optional - absence
// must be treated as non-match by every matcher entry that reads it (spec
// section 3 invariants, section 8 boundary case "IP absent").
type GeoIP struct {
	IP    net.IP
	IPStr string

	ContinentName *string
	ContinentCode *string
	CityName      *string
	Company       *string
	CountryName   *string
	CountryISO    *string
	Region        *string
	SubRegion     *string
	ASN           *uint32
	Network       *string

	IsProxy        *bool
	IsSatellite    *bool
	IsVPN          *bool
	IsTor          *bool
	IsRelay        *bool
	IsHosting      *bool
	IsMobile       *bool
	PrivacyService *string

	// Extended attributes emitted verbatim into the "proxy" log block
	// (spec section 4.8).
	Longitude         *float64
	Latitude          *float64
	ASName            *string
	ASDomain          *string
	ASType            *string
	CompanyCountry    *string
	CompanyDomain     *string
	CompanyType       *string
	MobileCarrierName *string
	MobileCountry     *string
	MobileMCC         *string
	MobileMNC         *string
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
