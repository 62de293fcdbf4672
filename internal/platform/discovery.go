package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rflorenc/towerxfer/internal/models"
)

// PingResponse holds the parsed /ping/ response.
type PingResponse struct {
	Version string `json:"version"`
}

// APIRootResponse holds the parsed /api/ response.
// AWX format: {"current_version": "/api/v2/", ...}
// AAP format: {"apis": {"controller": {"prefix": "/api/controller/"}, ...}}
type APIRootResponse struct {
	CurrentVersion string                         `json:"current_version"` // AWX
	APIs           map[string]APIRootServiceEntry `json:"apis"`            // AAP
}

// APIRootServiceEntry is one service advertised by the AAP gateway.
type APIRootServiceEntry struct {
	Prefix string `json:"prefix"`
}

// ParsePingResponse extracts the version from a /ping/ JSON response body.
func ParsePingResponse(body []byte) (*PingResponse, error) {
	var resp PingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing ping response: %w", err)
	}
	if resp.Version == "" {
		return nil, fmt.Errorf("ping response missing version field")
	}
	return &resp, nil
}

// ParseAPIRoot parses the /api/ response body.
func ParseAPIRoot(body []byte) (*APIRootResponse, error) {
	var resp APIRootResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing API root response: %w", err)
	}
	return &resp, nil
}

// DetectAPIPrefix determines the API prefix from the parsed /api/ response.
// AWX: uses current_version directly (e.g. "/api/v2/").
// AAP: uses apis.controller.prefix + "v2/" (e.g. "/api/controller/" → "/api/controller/v2/").
// Returns empty string if detection fails.
func DetectAPIPrefix(root *APIRootResponse) string {
	if root == nil {
		return ""
	}
	// AWX format: current_version is set
	if root.CurrentVersion != "" {
		prefix := root.CurrentVersion
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return prefix
	}
	// AAP format: look for controller in apis
	if controller, ok := root.APIs["controller"]; ok && controller.Prefix != "" {
		prefix := controller.Prefix
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return prefix + "v2/"
	}
	return ""
}

// CompareVersions performs a simple semver comparison.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
// Handles partial versions (e.g. "4.7" vs "4.7.8").
func CompareVersions(a, b string) int {
	aParts := parseVersionParts(a)
	bParts := parseVersionParts(b)

	maxLen := len(aParts)
	if len(bParts) > maxLen {
		maxLen = len(bParts)
	}

	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionAtLeast returns true if version >= min.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

func parseVersionParts(v string) []int {
	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		result = append(result, n)
	}
	return result
}

// PingPaths returns the ping endpoint paths to try for a connection type.
// AAP tries the gateway path first, then falls back to the non-gateway path
// (AAP 2.4 RPM has no gateway and uses /api/v2/).
func PingPaths(connType string) []string {
	if connType == "aap" {
		return []string{"/api/controller/v2/ping/", "/api/v2/ping/"}
	}
	return []string{"/api/v2/ping/"}
}

// DefaultAPIPrefix is used when discovery cannot tell.
func DefaultAPIPrefix(connType string) string {
	if connType == "aap" {
		return "/api/controller/v2/"
	}
	return "/api/v2/"
}

// PingWithVersion calls the ping endpoint using an authenticated client and
// parses the version from the response. If the response can't be parsed but
// HTTP succeeded, returns an empty PingResponse (connectivity OK, version unknown).
func (c *Client) PingWithVersion(apiPath string) (*PingResponse, error) {
	body, err := c.Get(apiPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ParsePingResponse(body)
	if err != nil {
		// HTTP succeeded but couldn't parse version
		return &PingResponse{}, nil
	}
	return resp, nil
}

// Discover asks /api/ for the controller prefix and falls back to the
// connection type's default when the answer is unusable.
func Discover(client *Client, conn *models.Connection, log zerolog.Logger) string {
	body, err := client.Get("/api/", nil)
	if err != nil {
		log.Warn().Err(err).Str("connection", conn.Name).Msg("discovery: /api/ failed")
		return DefaultAPIPrefix(conn.Type)
	}
	root, err := ParseAPIRoot(body)
	if err != nil {
		log.Warn().Err(err).Str("connection", conn.Name).Msg("discovery: parse /api/ failed")
		return DefaultAPIPrefix(conn.Type)
	}
	prefix := DetectAPIPrefix(root)
	if prefix == "" {
		log.Warn().Str("connection", conn.Name).Msg("discovery: could not detect API prefix")
		return DefaultAPIPrefix(conn.Type)
	}
	log.Debug().Str("connection", conn.Name).Str("prefix", prefix).Msg("discovery: detected API prefix")
	return prefix
}

// DiscoverAndStore runs discovery and records the version and prefix on the
// stored connection. Failures are logged, never returned.
func DiscoverAndStore(client *Client, conn *models.Connection, store *models.ConnectionStore, log zerolog.Logger) {
	prefix := Discover(client, conn, log)
	version := conn.Version
	if ping, err := client.PingWithVersion(prefix + "ping/"); err == nil && ping.Version != "" {
		version = ping.Version
	}
	store.SetVersion(conn.ID, version, prefix)
	conn.APIPrefix = prefix
	conn.Version = version
}
