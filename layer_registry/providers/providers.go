// Package providers holds the closed registry of rendering/data backends a
// layer may reference, and the layer types each backend supports.
package providers

import "fmt"

var allowedTypes = map[string][]string{
	"cartodb":        {"tileLayer"},
	"featureservice": {"tileLayer"},
	"arcgis":         {"tileLayer", "imageMapLayer"},
	"gee":            {"tileLayer", "raster", "vector"},
	"leaflet":        {"tileLayer", "wms"},
	"mapbox":         {"raster", "vector"},
	"wms":            {"wms"},
	"nexgddp":        {"tileLayer"},
	"loca":           {"tileLayer"},
}

// expireCacheProviders are the only backends for which the cache-expiration
// read-path endpoint is available.
var expireCacheProviders = map[string]bool{
	"gee":     true,
	"nexgddp": true,
	"loca":    true,
}

func IsValid(provider string) bool {
	_, ok := allowedTypes[provider]
	return ok
}

// CheckType verifies that layerType is allowed for the given provider. An
// absent provider leaves the type unconstrained, and an absent type is always
// accepted.
func CheckType(provider, layerType string) error {
	if provider == "" || layerType == "" {
		return nil
	}
	types, ok := allowedTypes[provider]
	if !ok {
		return fmt.Errorf("unknown provider '%v'", provider)
	}
	for _, t := range types {
		if t == layerType {
			return nil
		}
	}
	return fmt.Errorf("type '%v' is not valid for provider '%v'", layerType, provider)
}

func SupportsExpireCache(provider string) bool {
	return expireCacheProviders[provider]
}
