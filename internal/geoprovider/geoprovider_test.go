package geoprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupWithNoDatabasesConfigured(t *testing.T) {
	p, errs := Open(Config{})
	require.Empty(t, errs)

	geo := p.Lookup("52.78.12.56")
	assert.Equal(t, "52.78.12.56", geo.IPStr)
	assert.NotNil(t, geo.IP)
	assert.Nil(t, geo.CountryISO)
	assert.Nil(t, geo.ASN)
}

func TestLookupMalformedIPYieldsIPStrOnly(t *testing.T) {
	p, errs := Open(Config{})
	require.Empty(t, errs)

	geo := p.Lookup("not-an-ip")
	assert.Equal(t, "not-an-ip", geo.IPStr)
	assert.Nil(t, geo.IP)
	assert.Nil(t, geo.CountryISO)
}

func TestOpenReportsMissingDatabaseWithoutFailingTheProcess(t *testing.T) {
	_, errs := Open(Config{CityDBPath: "/nonexistent/GeoLite2-City.mmdb"})
	require.Len(t, errs, 1)
}
