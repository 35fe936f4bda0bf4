package knowledge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iron-manus/jarvis/pkg/httpclient"
)

// Contradiction detection is a substring-level heuristic over numeric
// claims. A claim is a keyword (a word of three or more letters) directly
// followed by a numeric token, e.g. "population 5312" or "count: 7". Two
// endpoints contradict each other on a keyword when both state a claim for
// it with different normalized values. The scan is deterministic: bodies
// are compared pairwise in endpoint-id order and keywords are reported
// sorted, so the same inputs always yield the same list.
var numericClaimPattern = regexp.MustCompile(`(?i)\b([a-z][a-z_-]{2,})\b[\s:=]+(-?\d[\d,]*(?:\.\d+)?)`)

// claimConflict marks a keyword a single body disagrees with itself on;
// such keywords carry no usable claim.
const claimConflict = "\x00conflict"

// DetectContradictions reports keyword-level numeric disagreements between
// endpoint response bodies.
func DetectContradictions(results []httpclient.FetchResult) []string {
	type claimed struct {
		endpointID string
		claims     map[string]string
	}

	sources := make([]claimed, 0, len(results))
	for _, res := range results {
		claims := extractClaims(res.Body)
		if len(claims) == 0 {
			continue
		}
		sources = append(sources, claimed{endpointID: res.EndpointID, claims: claims})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].endpointID < sources[j].endpointID })

	var contradictions []string
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			keys := make([]string, 0)
			for key, value := range sources[i].claims {
				other, ok := sources[j].claims[key]
				if ok && other != value {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			for _, key := range keys {
				contradictions = append(contradictions, fmt.Sprintf(
					"%s vs %s: %q (%s != %s)",
					sources[i].endpointID, sources[j].endpointID,
					key, sources[i].claims[key], sources[j].claims[key]))
			}
		}
	}
	return contradictions
}

// extractClaims maps each keyword in body to its normalized numeric value.
// Commas are stripped from values ("5,312" and "5312" agree). A keyword that
// appears with two different values inside one body is dropped.
func extractClaims(body string) map[string]string {
	claims := make(map[string]string)
	for _, m := range numericClaimPattern.FindAllStringSubmatch(body, -1) {
		key := strings.ToLower(m[1])
		value := strings.ReplaceAll(m[2], ",", "")
		if prev, ok := claims[key]; ok && prev != value {
			claims[key] = claimConflict
			continue
		}
		if claims[key] != claimConflict {
			claims[key] = value
		}
	}
	for key, value := range claims {
		if value == claimConflict {
			delete(claims, key)
		}
	}
	return claims
}
